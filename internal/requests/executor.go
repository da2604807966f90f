// Package requests executes ancillary work requests: unread checks,
// interactive profile sessions and profile inventory management.
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/inventory"
	"github.com/leadmify/agent/internal/lease"
	"github.com/leadmify/agent/internal/metrics"
)

// ErrProfileInUse is reported for a profile leased by another job
var ErrProfileInUse = errors.New("profile in use")

// API is the control-plane surface used by request handlers
type API interface {
	UpdateRequest(ctx context.Context, q controlplane.Queue, id controlplane.ID, update controlplane.RequestUpdate) error
	ListProfiles(ctx context.Context) ([]controlplane.Profile, error)
}

// Inventory manages local profile directories
type Inventory interface {
	List() (*inventory.Listing, error)
	Create(name string) (string, error)
	Delete(path string) error
	Validate(path string) error
}

// Deps are the collaborators of the executor
type Deps struct {
	API       API
	Leases    *lease.Tracker
	Factory   browser.Factory
	Sessions  *browser.Sessions
	Inventory Inventory
	Logger    *slog.Logger
}

// Executor runs work requests and reports their status
type Executor struct {
	deps   Deps
	logger *slog.Logger
}

// NewExecutor creates an executor
func NewExecutor(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = browser.NewSessions()
	}
	return &Executor{
		deps:   deps,
		logger: deps.Logger.With("component", "requests"),
	}
}

// outcome is what a handler produced for one request
type outcome struct {
	results any
	err     error
}

// Execute runs req and reports its final status. A nil error means the
// terminal status reached the control plane. ErrTokenExpired is returned
// unchanged; a lost connection fails the request.
func (e *Executor) Execute(ctx context.Context, q controlplane.Queue, req controlplane.WorkRequest) error {
	logger := e.logger.With("queue", string(q), "request_id", req.ID.String())

	handler, err := e.handler(q, req)
	if err != nil {
		return e.finish(ctx, logger, q, req.ID, outcome{err: err})
	}

	if e.alreadyOpen(q, req) {
		logger.Info("profile already open", "profile_path", req.ProfilePath)
		return e.finish(ctx, logger, q, req.ID, outcome{})
	}

	if err := e.update(ctx, q, req.ID, controlplane.RequestUpdate{Status: controlplane.RequestRunning}); err != nil {
		if errors.Is(err, controlplane.ErrTokenExpired) {
			return err
		}
		logger.Warn("failed to mark request running", "error", err)
	}

	logger.Info("processing request", "type", req.RequestType)
	out := handler(ctx, logger, req)
	if errors.Is(out.err, controlplane.ErrTokenExpired) {
		return out.err
	}
	return e.finish(ctx, logger, q, req.ID, out)
}

type handlerFunc func(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome

func (e *Executor) handler(q controlplane.Queue, req controlplane.WorkRequest) (handlerFunc, error) {
	switch q {
	case controlplane.QueueUnreadCheck:
		return e.unreadCheck, nil
	case controlplane.QueueProfiles:
		switch req.RequestType {
		case "", "open":
			return e.openProfile, nil
		case "close":
			return e.closeProfile, nil
		}
	case controlplane.QueueProfileInventory:
		switch req.RequestType {
		case "list":
			return e.listProfiles, nil
		case "create":
			return e.createProfile, nil
		case "delete":
			return e.deleteProfile, nil
		case "test":
			return e.testProfile, nil
		}
	default:
		return nil, fmt.Errorf("unknown queue %q", q)
	}
	return nil, fmt.Errorf("unknown request type %q", req.RequestType)
}

// alreadyOpen reports an open request for a profile with a live session; it completes without work
func (e *Executor) alreadyOpen(q controlplane.Queue, req controlplane.WorkRequest) bool {
	if q != controlplane.QueueProfiles || (req.RequestType != "" && req.RequestType != "open") {
		return false
	}
	r, ok := e.deps.Sessions.Get(req.ProfilePath)
	return ok && r.Alive()
}

// finish reports the terminal status of a request
func (e *Executor) finish(ctx context.Context, logger *slog.Logger, q controlplane.Queue, id controlplane.ID, out outcome) error {
	update := controlplane.RequestUpdate{Status: controlplane.RequestCompleted, Results: out.results}
	if out.err != nil {
		update.Status = controlplane.RequestFailed
		update.ErrorMessage = out.err.Error()
		logger.Error("request failed", "error", out.err)
	} else {
		logger.Info("request completed")
	}
	metrics.IncRequestsFinished(string(q), update.Status)

	if err := e.update(ctx, q, id, update); err != nil {
		if !controlplane.IsFatal(err) {
			logger.Warn("failed to report request status", "status", update.Status, "error", err)
		}
		return err
	}
	return nil
}

func (e *Executor) update(ctx context.Context, q controlplane.Queue, id controlplane.ID, update controlplane.RequestUpdate) error {
	return e.deps.API.UpdateRequest(ctx, q, id, update)
}

// Sessions returns the interactive session registry
func (e *Executor) Sessions() *browser.Sessions {
	return e.deps.Sessions
}

// ReapSessions forgets interactive sessions whose browser went away and releases their leases
func (e *Executor) ReapSessions() int {
	dead := e.deps.Sessions.RemoveDead()
	for _, r := range dead {
		r.Close()
		e.deps.Leases.Release(r.Path())
		e.logger.Info("interactive session closed", "profile_path", r.Path())
	}
	return len(dead)
}

// CloseSessions closes every interactive session and releases its lease
func (e *Executor) CloseSessions() []string {
	paths := e.deps.Sessions.CloseAll()
	for _, p := range paths {
		e.deps.Leases.Release(p)
	}
	return paths
}
