// Package dispatcher runs the poll loop: it reconciles running campaigns
// with the control plane and dispatches pending work requests.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadmify/agent/internal/campaign"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/metrics"
	"github.com/leadmify/agent/internal/retry"
)

// ErrTooManyErrors ends the loop after too many consecutive failed cycles
var ErrTooManyErrors = errors.New("too many consecutive dispatch errors")

// API is the control-plane surface polled every cycle
type API interface {
	RunningCampaigns(ctx context.Context) ([]controlplane.Campaign, error)
	PendingRequests(ctx context.Context, q controlplane.Queue) ([]controlplane.WorkRequest, error)
	WaitForConnection(ctx context.Context) error
}

// CampaignRunner runs one campaign to its end. It must remove state from
// the registry before returning.
type CampaignRunner interface {
	Run(ctx context.Context, state *campaign.RuntimeState) error
}

// RequestExecutor runs work requests and owns interactive sessions
type RequestExecutor interface {
	// Execute returns nil once the request's terminal status reached the control plane
	Execute(ctx context.Context, q controlplane.Queue, req controlplane.WorkRequest) error
	ReapSessions() int
	CloseSessions() []string
}

// Config holds loop timing
type Config struct {
	Interval             time.Duration
	SeenCleanupCycles    int
	MaxConsecutiveErrors int
	Backoff              retry.Backoff
}

// Deps are the collaborators of the dispatcher
type Deps struct {
	API       API
	Campaigns CampaignRunner
	Requests  RequestExecutor
	Registry  *campaign.Registry
	Launcher  Launcher
	Logger    *slog.Logger
}

// Dispatcher is the poll loop
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	seen   *SeenSet
	fatal  chan error
	cycles int
}

// New creates a dispatcher
func New(deps Deps, cfg Config) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.SeenCleanupCycles <= 0 {
		cfg.SeenCleanupCycles = 10
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	if cfg.Backoff == (retry.Backoff{}) {
		cfg.Backoff = retry.DefaultBackoff()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = campaign.NewRegistry()
	}
	if deps.Launcher == nil {
		deps.Launcher = NewGoLauncher(deps.Logger)
	}

	return &Dispatcher{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "dispatcher"),
		seen:   NewSeenSet(),
		fatal:  make(chan error, 1),
	}
}

// Seen returns the seen-request set
func (d *Dispatcher) Seen() *SeenSet {
	return d.seen
}

// Run polls until ctx is cancelled or a fatal condition occurs. It returns
// nil on cancellation, ErrTokenExpired from any layer, ErrConnectionLost when
// a cycle loses the control plane and one more reconnect wait fails, or
// ErrTooManyErrors. Before returning it stops every active campaign,
// closes interactive sessions and waits for launched jobs.
func (d *Dispatcher) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer func() {
		d.shutdown()
		cancelJobs()
		d.deps.Launcher.Wait()
		d.logger.Info("dispatcher stopped")
	}()

	d.logger.Info("dispatcher started",
		"interval", d.cfg.Interval,
		"seen_cleanup_cycles", d.cfg.SeenCleanupCycles,
	)

	consecutive := 0
	for {
		if err := d.pendingFatal(); err != nil {
			return err
		}

		wait := d.cfg.Interval
		err := d.runCycle(ctx, jobCtx)
		switch {
		case err == nil:
			consecutive = 0
			metrics.IncDispatchCycles("ok")
		case errors.Is(err, controlplane.ErrTokenExpired):
			metrics.IncDispatchCycles("error")
			d.logger.Error("fatal control plane error, stopping", "error", err)
			return err
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, controlplane.ErrConnectionLost):
			metrics.IncDispatchCycles("error")
			d.logger.Warn("control plane connection lost, waiting once more", "error", err)
			if werr := d.deps.API.WaitForConnection(ctx); werr != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("control plane unreachable, stopping", "error", werr)
				return werr
			}
			d.logger.Info("control plane connection restored")
			consecutive = 0
			wait = 0
		default:
			consecutive++
			metrics.IncDispatchCycles("error")
			d.logger.Warn("dispatch cycle failed",
				"error", err,
				"consecutive_errors", consecutive,
				"max_consecutive_errors", d.cfg.MaxConsecutiveErrors,
			)
			if consecutive >= d.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyErrors, consecutive, err)
			}
			wait = d.errorDelay(consecutive)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case err := <-d.fatal:
			timer.Stop()
			d.logger.Error("fatal error from job, stopping", "error", err)
			return err
		case <-timer.C:
		}
	}
}

// errorDelay is the wait after the n-th consecutive failed cycle
func (d *Dispatcher) errorDelay(n int) time.Duration {
	return d.cfg.Backoff.Delay(n - 1)
}

// runCycle performs one poll cycle
func (d *Dispatcher) runCycle(ctx, jobCtx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch cycle panicked: %v", r)
		}
	}()

	d.cycles++
	logger := d.logger.With("cycle_id", uuid.NewString(), "cycle", d.cycles)
	logger.Debug("dispatch cycle started")

	campaignErr := d.syncCampaigns(ctx, jobCtx, logger)
	if controlplane.IsFatal(campaignErr) {
		return campaignErr
	}

	if err := d.pollRequests(ctx, jobCtx, logger); err != nil {
		return err
	}

	if n := d.deps.Requests.ReapSessions(); n > 0 {
		logger.Info("released closed interactive sessions", "count", n)
	}

	if d.cycles%d.cfg.SeenCleanupCycles == 0 {
		n := d.seen.Clear()
		logger.Debug("cleared seen requests", "count", n)
	}
	metrics.SetSeenRequests(d.seen.Len())

	return campaignErr
}

// syncCampaigns stops campaigns no longer running remotely and starts new ones
func (d *Dispatcher) syncCampaigns(ctx, jobCtx context.Context, logger *slog.Logger) error {
	running, err := d.deps.API.RunningCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("fetch running campaigns: %w", err)
	}

	remote := make(map[controlplane.ID]bool, len(running))
	for _, c := range running {
		remote[c.ID] = true
	}

	for _, state := range d.deps.Registry.States() {
		if remote[state.ID] || state.Stopped() {
			continue
		}
		state.Stop()
		released := state.ReleaseAll()
		logger.Info("campaign stopped externally",
			"campaign_id", state.ID.String(),
			"released_resources", released,
		)
	}

	for _, c := range running {
		if _, ok := d.deps.Registry.Get(c.ID); ok {
			continue
		}
		state := campaign.NewRuntimeState(c)
		if !d.deps.Registry.Add(state) {
			continue
		}
		metrics.SetCampaignsActive(d.deps.Registry.Len())
		logger.Info("starting campaign", "campaign_id", c.ID.String(), "name", c.Name)
		d.launchCampaign(jobCtx, state)
	}
	return nil
}

func (d *Dispatcher) launchCampaign(ctx context.Context, state *campaign.RuntimeState) {
	d.deps.Launcher.Launch(func() {
		err := d.deps.Campaigns.Run(ctx, state)
		switch {
		case err == nil:
		case errors.Is(err, controlplane.ErrTokenExpired):
			d.raise(err)
		case ctx.Err() == nil:
			d.logger.Warn("campaign ended with error", "campaign_id", state.ID.String(), "error", err)
		}
	})
}

// pollRequests dispatches unseen pending requests of every queue
func (d *Dispatcher) pollRequests(ctx, jobCtx context.Context, logger *slog.Logger) error {
	for _, q := range controlplane.Queues {
		reqs, err := d.deps.API.PendingRequests(ctx, q)
		if err != nil {
			if controlplane.IsFatal(err) {
				return err
			}
			logger.Warn("failed to fetch pending requests", "queue", string(q), "error", err)
			continue
		}

		for _, req := range reqs {
			if !d.seen.Add(q, req.ID) {
				continue
			}
			metrics.IncRequestsDispatched(string(q))
			logger.Info("dispatching request", "queue", string(q), "request_id", req.ID.String(), "type", req.RequestType)
			d.launchRequest(jobCtx, q, req)
		}
	}
	return nil
}

func (d *Dispatcher) launchRequest(ctx context.Context, q controlplane.Queue, req controlplane.WorkRequest) {
	d.deps.Launcher.Launch(func() {
		err := d.deps.Requests.Execute(ctx, q, req)
		switch {
		case err == nil:
			d.seen.Forget(q, req.ID)
		case errors.Is(err, controlplane.ErrTokenExpired):
			d.raise(err)
		case ctx.Err() == nil:
			d.logger.Warn("request status not delivered",
				"queue", string(q), "request_id", req.ID.String(), "error", err)
		}
	})
}

// raise hands a fatal job error to the loop
func (d *Dispatcher) raise(err error) {
	select {
	case d.fatal <- err:
	default:
	}
}

func (d *Dispatcher) pendingFatal() error {
	select {
	case err := <-d.fatal:
		return err
	default:
		return nil
	}
}

// shutdown stops every active campaign and closes interactive sessions
func (d *Dispatcher) shutdown() {
	for _, state := range d.deps.Registry.States() {
		state.Stop()
		state.ReleaseAll()
	}
	if paths := d.deps.Requests.CloseSessions(); len(paths) > 0 {
		d.logger.Info("closed interactive sessions", "count", len(paths))
	}
}
