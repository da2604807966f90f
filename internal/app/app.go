package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/campaign"
	"github.com/leadmify/agent/internal/config"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/dispatcher"
	"github.com/leadmify/agent/internal/inventory"
	"github.com/leadmify/agent/internal/journal"
	"github.com/leadmify/agent/internal/lease"
	"github.com/leadmify/agent/internal/metrics"
	"github.com/leadmify/agent/internal/requests"
	"github.com/leadmify/agent/internal/retry"
	"github.com/leadmify/agent/internal/status"
	"github.com/leadmify/agent/internal/token"
)

// App is the main application
type App struct {
	config        *config.Config
	version       string
	logger        *slog.Logger
	tokenFile     *token.FileSource
	client        *controlplane.Client
	leases        *lease.Tracker
	launcher      *browser.Launcher
	sessions      *browser.Sessions
	journal       *journal.Journal
	registry      *campaign.Registry
	dispatcher    *dispatcher.Dispatcher
	metricsServer *metrics.Server
	collector     *metrics.Collector
	statusServer  *status.Server
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	var tokens token.Source
	var tokenFile *token.FileSource
	if cfg.ControlPlane.TokenFile != "" {
		fs, err := token.NewFileSource(cfg.ControlPlane.TokenFile, logger.With("component", "token"))
		if err != nil {
			return nil, fmt.Errorf("failed to load token: %w", err)
		}
		tokens = fs
		tokenFile = fs
	} else {
		tokens = token.Static(cfg.ControlPlane.Token)
	}

	client := controlplane.NewClient(controlplane.Options{
		BaseURL:             cfg.ControlPlane.BaseURL,
		Tokens:              tokens,
		Timeout:             cfg.ControlPlane.Timeout,
		HealthCheckInterval: cfg.ControlPlane.HealthCheckInterval,
		ProbeTimeout:        cfg.ControlPlane.ProbeTimeout,
		ReconnectBudget:     cfg.ControlPlane.ReconnectBudget,
		MaxAttempts:         cfg.ControlPlane.MaxAttempts,
		FailureThreshold:    cfg.ControlPlane.FailureThreshold,
		Backoff:             backoff(cfg.ControlPlane),
		DefaultRetryAfter:   cfg.ControlPlane.DefaultRetryAfter,
		Logger:              logger,
	})

	jr, err := journal.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open send journal: %w", err)
	}

	leases := lease.NewTracker()
	sessions := browser.NewSessions()
	registry := campaign.NewRegistry()
	launcher := browser.NewLauncher(browserConfig(cfg.Browser), logger)

	orchestrator := campaign.NewOrchestrator(campaign.Deps{
		API:      client,
		Leases:   leases,
		Factory:  launcher,
		Journal:  jr,
		Registry: registry,
		Logger:   logger,
	}, campaign.Config{
		StaggerDelay:      cfg.Campaign.StaggerDelay,
		MaxProfileRetries: cfg.Campaign.MaxProfileRetries,
		DefaultDelayMin:   cfg.Campaign.DefaultDelayMin,
		DefaultDelayMax:   cfg.Campaign.DefaultDelayMax,
		Placeholder:       cfg.Browser.MessagePlaceholder,
		Backoff:           backoff(cfg.ControlPlane),
	})

	executor := requests.NewExecutor(requests.Deps{
		API:       client,
		Leases:    leases,
		Factory:   launcher,
		Sessions:  sessions,
		Inventory: inventory.NewManager(cfg.Browser.ProfilesDir),
		Logger:    logger,
	})

	disp := dispatcher.New(dispatcher.Deps{
		API:       client,
		Campaigns: orchestrator,
		Requests:  executor,
		Registry:  registry,
		Launcher:  dispatcher.NewLauncher(cfg.Dispatcher.MaxConcurrentJobs, logger),
		Logger:    logger,
	}, dispatcher.Config{
		Interval:             cfg.Dispatcher.Interval,
		SeenCleanupCycles:    cfg.Dispatcher.SeenCleanupCycles,
		MaxConsecutiveErrors: cfg.Dispatcher.MaxConsecutiveErrors,
		Backoff:              backoff(cfg.ControlPlane),
	})

	a := &App{
		config:     cfg,
		version:    version,
		logger:     logger,
		tokenFile:  tokenFile,
		client:     client,
		leases:     leases,
		launcher:   launcher,
		sessions:   sessions,
		journal:    jr,
		registry:   registry,
		dispatcher: disp,
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		a.collector = metrics.NewCollector(m, metrics.StatsFunc(a.stats), cfg.Storage.Path, 0)
	}

	if cfg.Status.Enabled {
		a.statusServer = status.NewServer(cfg.Status.ListenAddr, status.Deps{
			Registry: registry,
			Leases:   leases,
			Sessions: sessions,
			Health:   client.Health,
			Version:  version,
		}, logger)
	}

	return a, nil
}

// Run starts all components and blocks until shutdown. A fatal dispatcher
// error such as an expired token is returned after shutdown completes.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting leadmify agent",
		"version", a.version,
		"control_plane", a.config.ControlPlane.BaseURL,
		"interval", a.config.Dispatcher.Interval,
		"engine", a.config.Browser.Engine,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.tokenFile != nil {
		if err := a.tokenFile.Watch(ctx); err != nil {
			a.logger.Warn("token file watch disabled", "error", err)
		}
	}

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.statusServer != nil {
		go func() {
			if err := a.statusServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("status server: %w", err)
			}
		}()
	}

	a.pruneJournal(ctx)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.dispatcher.Run(ctx)
	}()

	var result error
	select {
	case err := <-runErr:
		if err != nil {
			a.logger.Error("dispatcher stopped", "error", err)
			result = err
		}
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
		if err := <-runErr; err != nil {
			a.logger.Error("dispatcher stopped", "error", err)
		}
		result = err
	}

	cancel()
	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(result, err)
	}
	return result
}

// Shutdown gracefully shuts down all components. The dispatcher must have
// returned already: it owns stopping campaigns and closing sessions.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.statusServer != nil {
		if err := a.statusServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("status server shutdown error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.collector != nil {
		a.collector.Stop()
	}

	if a.tokenFile != nil {
		a.tokenFile.Wait()
	}

	if err := a.launcher.Stop(); err != nil {
		a.logger.Error("browser driver stop error", "error", err)
	}

	if err := a.journal.Close(); err != nil {
		a.logger.Error("journal close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// pruneJournal drops journal buckets of campaigns the control plane no
// longer reports as running. Failures only skip the cleanup.
func (a *App) pruneJournal(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.config.ControlPlane.Timeout)
	defer cancel()

	campaigns, err := a.client.RunningCampaigns(ctx)
	if err != nil {
		a.logger.Debug("journal prune skipped", "error", err)
		return
	}
	keep := make(map[string]bool, len(campaigns))
	for _, c := range campaigns {
		keep[c.ID.String()] = true
	}
	dropped, err := a.journal.Prune(ctx, keep)
	if err != nil {
		a.logger.Warn("journal prune failed", "error", err)
		return
	}
	if len(dropped) > 0 {
		a.logger.Info("pruned send journal", "campaigns", dropped)
	}
}

func (a *App) stats() metrics.AgentStats {
	return metrics.AgentStats{
		ActiveCampaigns: a.registry.Len(),
		LeasesHeld:      a.leases.Len(),
		SeenRequests:    a.dispatcher.Seen().Len(),
	}
}

func backoff(cfg config.ControlPlaneConfig) retry.Backoff {
	return retry.Backoff{
		Base:   cfg.BackoffBase,
		Unit:   time.Second,
		Max:    cfg.MaxBackoff,
		Jitter: time.Second,
	}
}

func browserConfig(cfg config.BrowserConfig) browser.Config {
	return browser.Config{
		Engine:            cfg.Engine,
		Headless:          cfg.Headless,
		HomeURL:           cfg.HomeURL,
		ComposeURL:        cfg.ComposeURL,
		NavigationTimeout: cfg.NavigationTimeout,
		SkipInstall:       cfg.SkipInstall,
		Selectors: browser.Selectors{
			MessageInput:     cfg.Selectors.MessageInput,
			SendButton:       cfg.Selectors.SendButton,
			SendFailed:       cfg.Selectors.SendFailed,
			RecipientMissing: cfg.Selectors.RecipientMissing,
			UnreadBadge:      cfg.Selectors.UnreadBadge,
		},
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
