// Package campaign runs campaigns: it partitions recipients across profiles,
// supervises one worker per profile and finalizes the campaign.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/lease"
	"github.com/leadmify/agent/internal/metrics"
	"github.com/leadmify/agent/internal/retry"
	"github.com/leadmify/agent/internal/supervisor"
)

// API is the control-plane surface used by the orchestrator
type API interface {
	supervisor.API
	CampaignData(ctx context.Context, id controlplane.ID) (*controlplane.CampaignData, error)
	CompleteCampaign(ctx context.Context, id controlplane.ID, totalSent, totalFailed int) error
	FailCampaign(ctx context.Context, id controlplane.ID, reason string) error
}

// Journal is the local send journal. It may be nil.
type Journal interface {
	supervisor.Journal
	Forget(ctx context.Context, campaign string) error
}

// Config holds orchestrator defaults; campaign settings override them
type Config struct {
	StaggerDelay      time.Duration
	MaxProfileRetries int
	DefaultDelayMin   time.Duration
	DefaultDelayMax   time.Duration
	Placeholder       string
	Backoff           retry.Backoff
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	API      API
	Leases   *lease.Tracker
	Factory  browser.Factory
	Journal  Journal
	Registry *Registry
	Logger   *slog.Logger
	Sleep    retry.SleepFunc
}

// Orchestrator runs campaigns
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if cfg.MaxProfileRetries <= 0 {
		cfg.MaxProfileRetries = 3
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "campaign"),
	}
}

// Run executes the campaign held by state, which must already be registered.
// It returns an error only for ErrTokenExpired or cancellation of ctx; every
// other failure, ErrConnectionLost included, is reported to the control plane.
// On every path the campaign's resources are released and state is removed
// from the registry.
func (o *Orchestrator) Run(ctx context.Context, state *RuntimeState) error {
	id := state.ID
	logger := o.logger.With("campaign_id", id.String())
	finalized := false

	defer func() {
		released := state.ReleaseAll()
		o.deps.Registry.Remove(state)
		metrics.SetCampaignsActive(o.deps.Registry.Len())
		if finalized && o.deps.Journal != nil {
			if ferr := o.deps.Journal.Forget(context.WithoutCancel(ctx), id.String()); ferr != nil {
				logger.Warn("failed to drop send journal", "error", ferr)
			}
		}
		logger.Info("campaign runtime finished", "released_resources", released)
	}()

	data, err := o.deps.API.CampaignData(ctx, id)
	if err != nil {
		if errors.Is(err, controlplane.ErrTokenExpired) || ctx.Err() != nil {
			return err
		}
		if errors.Is(err, controlplane.ErrConnectionLost) {
			finalized = true
			return o.fail(ctx, logger, id, "Connection lost")
		}
		// Retried on the next poll cycle
		logger.Warn("failed to load campaign data", "error", err)
		return nil
	}

	if len(data.Profiles) == 0 {
		finalized = true
		return o.fail(ctx, logger, id, "No profiles for campaign")
	}
	if len(data.Recipients) == 0 {
		finalized = true
		return o.fail(ctx, logger, id, "No recipients for campaign")
	}

	state.SetCounters(data.Campaign.TotalSent, data.Campaign.TotalFailed)

	if err := o.report(ctx, logger, id, controlplane.ProgressEvent{
		Action:    controlplane.ActionStarted,
		Message:   fmt.Sprintf("Campaign started with %d profiles and %d recipients", len(data.Profiles), len(data.Recipients)),
		Recipient: "campaign_start",
	}); err != nil {
		return err
	}

	todo := data.Recipients
	processed, err := o.deps.API.ProcessedRecipients(ctx, id)
	switch {
	case err == nil:
		todo = remaining(data.Recipients, processed)
	case errors.Is(err, controlplane.ErrTokenExpired) || ctx.Err() != nil:
		return err
	case errors.Is(err, controlplane.ErrConnectionLost):
		finalized = true
		return o.fail(ctx, logger, id, "Connection lost")
	default:
		// Supervisors re-check before every send
		logger.Warn("failed to load processed recipients, using the full list", "error", err)
	}

	logger.Info("campaign started",
		"name", data.Campaign.Name,
		"profiles", len(data.Profiles),
		"recipients", len(data.Recipients),
		"remaining", len(todo),
	)

	runErr := o.supervise(ctx, state, data, todo)

	switch {
	case errors.Is(runErr, controlplane.ErrTokenExpired):
		return runErr
	case ctx.Err() != nil:
		// Agent shutdown: leave the campaign running on the control plane
		return ctx.Err()
	case state.Stopped():
		logger.Info("campaign stopped externally")
		metrics.IncCampaignsFinished("stopped")
		return nil
	case runErr != nil:
		finalized = true
		reason := fmt.Sprintf("Campaign error: %v", runErr)
		if errors.Is(runErr, controlplane.ErrConnectionLost) {
			reason = "Connection lost"
		}
		return o.fail(ctx, logger, id, reason)
	}

	finalized = true
	sent, failed := state.Counters()
	if err := o.deps.API.CompleteCampaign(ctx, id, sent, failed); err != nil {
		if errors.Is(err, controlplane.ErrTokenExpired) {
			return err
		}
		logger.Warn("failed to mark campaign completed", "error", err)
	}
	metrics.IncCampaignsFinished("completed")
	logger.Info("campaign completed", "total_sent", sent, "total_failed", failed)
	return nil
}

// supervise starts one supervisor per profile with a staggered start and waits for all of them
func (o *Orchestrator) supervise(ctx context.Context, state *RuntimeState, data *controlplane.CampaignData, todo []string) error {
	camp := data.Campaign
	cfg := supervisor.Config{
		MaxAttempts:     o.cfg.MaxProfileRetries,
		DelayMin:        o.cfg.DefaultDelayMin,
		DelayMax:        o.cfg.DefaultDelayMax,
		MessageTemplate: camp.MessageTemplate,
		Placeholder:     o.cfg.Placeholder,
		Backoff:         o.cfg.Backoff,
	}
	if camp.MaxRetries > 0 {
		cfg.MaxAttempts = camp.MaxRetries
	}
	if camp.DelayStart > 0 || camp.DelayEnd > 0 {
		cfg.DelayMin = time.Duration(camp.DelayStart) * time.Second
		cfg.DelayMax = time.Duration(camp.DelayEnd) * time.Second
	}

	deps := supervisor.Deps{
		API:     o.deps.API,
		Leases:  o.deps.Leases,
		Factory: o.deps.Factory,
		Journal: o.deps.Journal,
		Logger:  o.deps.Logger,
		Sleep:   o.deps.Sleep,
	}

	shards := Partition(todo, len(data.Profiles))
	g, gctx := errgroup.WithContext(ctx)

	for i, profile := range data.Profiles {
		if i > 0 {
			if err := retry.SleepUntil(gctx, o.deps.Sleep, o.cfg.StaggerDelay, state.Done()); err != nil {
				break
			}
		}
		if state.Stopped() || gctx.Err() != nil {
			break
		}
		if len(shards[i]) == 0 {
			continue
		}

		sup := supervisor.New(deps, cfg, supervisor.Job{
			CampaignID: camp.ID,
			Profile:    profile,
			Shard:      shards[i],
		}, state)
		g.Go(func() (err error) {
			// A crashed supervisor ends only its own profile
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("supervisor panicked",
						"campaign_id", camp.ID.String(),
						"profile_path", profile.Path,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = o.report(ctx, o.logger, camp.ID, controlplane.ProgressEvent{
						Action:    controlplane.ActionProfileBlocked,
						Message:   fmt.Sprintf("Profile %s stopped after an internal error", profile.Path),
						ProfileID: profile.ID,
					})
				}
			}()
			return sup.Run(gctx)
		})
	}

	return g.Wait()
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, id controlplane.ID, reason string) error {
	metrics.IncCampaignsFinished("failed")
	logger.Error("campaign failed", "reason", reason)
	if err := o.deps.API.FailCampaign(ctx, id, reason); err != nil {
		if errors.Is(err, controlplane.ErrTokenExpired) {
			return err
		}
		logger.Warn("failed to mark campaign failed", "error", err)
	}
	return nil
}

func (o *Orchestrator) report(ctx context.Context, logger *slog.Logger, id controlplane.ID, ev controlplane.ProgressEvent) error {
	err := o.deps.API.ReportProgress(ctx, id, ev)
	if err == nil {
		return nil
	}
	if errors.Is(err, controlplane.ErrTokenExpired) {
		return err
	}
	logger.Warn("failed to report progress", "action", ev.Action, "error", err)
	return nil
}
