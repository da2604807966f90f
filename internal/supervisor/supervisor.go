// Package supervisor runs one profile's share of a campaign.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/journal"
	"github.com/leadmify/agent/internal/lease"
	"github.com/leadmify/agent/internal/metrics"
	"github.com/leadmify/agent/internal/retry"
)

// API is the control-plane surface used by a supervisor
type API interface {
	ProcessedRecipients(ctx context.Context, id controlplane.ID) ([]string, error)
	ReportProgress(ctx context.Context, id controlplane.ID, ev controlplane.ProgressEvent) error
}

// Journal records attempted recipients locally. It may be nil.
type Journal interface {
	Record(ctx context.Context, campaign, recipient string, e journal.Entry) error
	Attempted(ctx context.Context, campaign string) (map[string]struct{}, error)
}

// Runtime is the campaign state shared by all supervisors of one campaign
type Runtime interface {
	// Stopped reports whether the campaign was stopped externally
	Stopped() bool
	// Done is closed when the campaign is stopped
	Done() <-chan struct{}
	Attach(r browser.Resource)
	Detach(r browser.Resource)
	// RecordOutcome updates the shared counters and returns the new totals
	RecordOutcome(sent bool) (totalSent, totalFailed int)
}

// Config holds per-campaign tuning
type Config struct {
	// MaxAttempts bounds whole per-profile attempts after resource errors
	MaxAttempts     int
	DelayMin        time.Duration
	DelayMax        time.Duration
	MessageTemplate string
	Placeholder     string
	Backoff         retry.Backoff
}

// Deps are the collaborators shared by every supervisor
type Deps struct {
	API     API
	Leases  *lease.Tracker
	Factory browser.Factory
	Journal Journal
	Logger  *slog.Logger
	Sleep   retry.SleepFunc
}

// Job identifies the work of one supervisor
type Job struct {
	CampaignID controlplane.ID
	Profile    controlplane.Profile
	Shard      []string
}

// Supervisor drives one profile through a campaign shard:
// acquire lease, run, retry on resource errors, release.
type Supervisor struct {
	deps   Deps
	cfg    Config
	job    Job
	rt     Runtime
	logger *slog.Logger

	res browser.Resource
}

// New creates a supervisor for job
func New(deps Deps, cfg Config, job Job, rt Runtime) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.Backoff == (retry.Backoff{}) {
		cfg.Backoff = retry.DefaultBackoff()
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Supervisor{
		deps: deps,
		cfg:  cfg,
		job:  job,
		rt:   rt,
		logger: deps.Logger.With(
			"component", "supervisor",
			"campaign_id", job.CampaignID.String(),
			"profile_id", job.Profile.ID.String(),
			"profile_path", job.Profile.Path,
		),
	}
}

// Run processes the shard. A profile that is already leased is skipped
// without error. Exhausting the attempt budget ends the supervisor without
// error; only control-plane fatal errors and context cancellation are returned.
func (s *Supervisor) Run(ctx context.Context) error {
	key := s.job.Profile.Path
	if !s.deps.Leases.TryAcquire(key) {
		s.logger.Warn("profile already in use, skipping")
		metrics.IncProfilesSkipped()
		return nil
	}
	defer s.deps.Leases.Release(key)
	defer s.dropResource()

	s.logger.Info("supervisor started", "shard_size", len(s.job.Shard))

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if s.rt.Stopped() {
			s.logger.Info("campaign stopped")
			return nil
		}

		err := s.runOnce(ctx)
		if err == nil {
			s.logger.Info("supervisor finished")
			return nil
		}
		if controlplane.IsFatal(err) || ctx.Err() != nil {
			return err
		}

		s.logger.Warn("profile attempt failed", "attempt", attempt+1, "max_attempts", s.cfg.MaxAttempts, "error", err)
		s.dropResource()

		if attempt+1 >= s.cfg.MaxAttempts {
			break
		}
		metrics.IncProfileRetries()
		if err := s.wait(ctx, s.cfg.Backoff.Delay(attempt)); err != nil {
			return err
		}
	}

	if s.rt.Stopped() {
		s.logger.Info("campaign stopped")
		return nil
	}
	s.logger.Error("profile gave up after retries", "attempts", s.cfg.MaxAttempts)
	return s.report(ctx, controlplane.ProgressEvent{
		Action:    controlplane.ActionProfileBlocked,
		Message:   fmt.Sprintf("Profile %s stopped after %d failed attempts", s.profileName(), s.cfg.MaxAttempts),
		ProfileID: s.job.Profile.ID,
	})
}

// runOnce is one attempt over the remaining shard
func (s *Supervisor) runOnce(ctx context.Context) error {
	if err := s.ensureResource(ctx); err != nil {
		return err
	}

	processed, err := s.processed(ctx)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(s.job.Shard))
	for _, r := range s.job.Shard {
		if _, done := processed[r]; !done {
			remaining = append(remaining, r)
		}
	}
	s.logger.Debug("remaining recipients", "count", len(remaining))

	for i, recipient := range remaining {
		if s.rt.Stopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ensureResource(ctx); err != nil {
			return err
		}

		// Re-validate right before sending; another worker or an earlier run may have handled it
		processed, err := s.processed(ctx)
		if err != nil {
			return err
		}
		if _, done := processed[recipient]; done {
			s.logger.Debug("recipient already processed", "recipient", recipient)
			continue
		}

		text := s.render(recipient)
		outcome, err := s.res.SendMessage(ctx, recipient, text)
		if err != nil {
			return fmt.Errorf("send to %s: %w", recipient, err)
		}

		if err := s.record(ctx, recipient, outcome); err != nil {
			return err
		}

		if i < len(remaining)-1 {
			if err := s.wait(ctx, s.pacingDelay()); err != nil {
				return err
			}
		}
	}
	return nil
}

// processed returns the control plane's processed set joined with the local journal
func (s *Supervisor) processed(ctx context.Context) (map[string]struct{}, error) {
	list, err := s.deps.API.ProcessedRecipients(ctx, s.job.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("fetch processed recipients: %w", err)
	}

	set := make(map[string]struct{}, len(list))
	for _, r := range list {
		set[r] = struct{}{}
	}

	if s.deps.Journal != nil {
		attempted, err := s.deps.Journal.Attempted(ctx, s.job.CampaignID.String())
		if err != nil {
			s.logger.Warn("failed to read send journal", "error", err)
		}
		for r := range attempted {
			set[r] = struct{}{}
		}
	}
	return set, nil
}

// ensureResource creates the resource when missing or dead. A restart is not an attempt.
func (s *Supervisor) ensureResource(ctx context.Context) error {
	if s.res != nil {
		if s.res.Alive() {
			return nil
		}
		s.logger.Warn("browser session died, recreating")
		metrics.IncResourceRestarts()
		s.dropResource()
	}

	res, err := s.deps.Factory.Create(ctx, s.job.Profile.Path, browser.Options{})
	if err != nil {
		return err
	}
	s.res = res
	s.rt.Attach(res)
	return nil
}

func (s *Supervisor) dropResource() {
	if s.res == nil {
		return
	}
	s.rt.Detach(s.res)
	if err := s.res.Close(); err != nil {
		s.logger.Debug("failed to close browser session", "error", err)
	}
	s.res = nil
}

// record journals the attempt, updates counters and reports progress.
// The journal write survives cancellation: the message is already out.
func (s *Supervisor) record(ctx context.Context, recipient string, outcome browser.Outcome) error {
	if s.deps.Journal != nil {
		err := s.deps.Journal.Record(context.WithoutCancel(ctx), s.job.CampaignID.String(), recipient, journal.Entry{
			ProfileID: s.job.Profile.ID.String(),
			Outcome:   outcome.String(),
		})
		if err != nil {
			s.logger.Warn("failed to journal recipient", "recipient", recipient, "error", err)
		}
	}

	sent := outcome == browser.Sent
	totalSent, totalFailed := s.rt.RecordOutcome(sent)
	metrics.IncMessages(outcome.String())

	ev := controlplane.ProgressEvent{
		ProfileID:   s.job.Profile.ID,
		Recipient:   recipient,
		TotalSent:   &totalSent,
		TotalFailed: &totalFailed,
	}
	switch outcome {
	case browser.Sent:
		ev.Action = controlplane.ActionMessageSent
		ev.Message = fmt.Sprintf("Message sent to %s", recipient)
		s.logger.Info("message sent", "recipient", recipient, "total_sent", totalSent)
	case browser.NotFound:
		ev.Action = controlplane.ActionMessageFailed
		ev.Message = fmt.Sprintf("Recipient %s not found", recipient)
		s.logger.Warn("recipient not found", "recipient", recipient)
	default:
		ev.Action = controlplane.ActionMessageFailed
		ev.Message = fmt.Sprintf("Failed to send message to %s", recipient)
		s.logger.Warn("message rejected", "recipient", recipient)
	}
	return s.report(ctx, ev)
}

// report posts a progress event. Only fatal control-plane errors are returned.
func (s *Supervisor) report(ctx context.Context, ev controlplane.ProgressEvent) error {
	err := s.deps.API.ReportProgress(ctx, s.job.CampaignID, ev)
	if err == nil {
		return nil
	}
	if controlplane.IsFatal(err) {
		return err
	}
	s.logger.Warn("failed to report progress", "action", ev.Action, "error", err)
	return nil
}

func (s *Supervisor) render(recipient string) string {
	if s.cfg.Placeholder == "" {
		return s.cfg.MessageTemplate
	}
	return strings.ReplaceAll(s.cfg.MessageTemplate, s.cfg.Placeholder, recipient)
}

func (s *Supervisor) pacingDelay() time.Duration {
	spread := s.cfg.DelayMax - s.cfg.DelayMin
	if spread <= 0 {
		return s.cfg.DelayMin
	}
	return s.cfg.DelayMin + time.Duration(rand.Int64N(int64(spread)+1))
}

// wait sleeps for d, returning early and without error when the campaign stops
func (s *Supervisor) wait(ctx context.Context, d time.Duration) error {
	return retry.SleepUntil(ctx, s.deps.Sleep, d, s.rt.Done())
}

func (s *Supervisor) profileName() string {
	if s.job.Profile.Name != "" {
		return s.job.Profile.Name
	}
	return s.job.Profile.Path
}
