package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/controlplane"
)

// openProfile starts a visible session that stays open until a close request.
// The session holds the profile's lease, so campaigns skip the profile meanwhile.
func (e *Executor) openProfile(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	path := req.ProfilePath
	if path == "" {
		return outcome{err: errors.New("profile_path is required")}
	}

	// A session whose window was closed still holds the lease
	if r, ok := e.deps.Sessions.Get(path); ok && !r.Alive() {
		e.dropSession(path)
	}

	if !e.deps.Leases.TryAcquire(path) {
		return outcome{err: ErrProfileInUse}
	}

	r, err := e.deps.Factory.Create(ctx, path, browser.Options{Headed: true})
	if err != nil {
		e.deps.Leases.Release(path)
		return outcome{err: fmt.Errorf("failed to open profile: %w", err)}
	}
	if !e.deps.Sessions.Add(r) {
		r.Close()
		e.deps.Leases.Release(path)
		return outcome{err: errors.New("profile already opened")}
	}

	logger.Info("profile opened", "profile_path", path, "profile_name", req.ProfileName)
	return outcome{}
}

// closeProfile closes the session opened for the profile, if any
func (e *Executor) closeProfile(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	if req.ProfilePath == "" {
		return outcome{err: errors.New("profile_path is required")}
	}
	if e.dropSession(req.ProfilePath) {
		logger.Info("profile closed", "profile_path", req.ProfilePath)
	} else {
		logger.Info("profile was not open", "profile_path", req.ProfilePath)
	}
	return outcome{}
}

func (e *Executor) dropSession(path string) bool {
	r, ok := e.deps.Sessions.Remove(path)
	if !ok {
		return false
	}
	if err := r.Close(); err != nil {
		e.logger.Debug("failed to close session", "profile_path", path, "error", err)
	}
	e.deps.Leases.Release(path)
	return true
}
