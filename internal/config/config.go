package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Campaign     CampaignConfig     `yaml:"campaign"`
	Browser      BrowserConfig      `yaml:"browser"`
	Storage      StorageConfig      `yaml:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics"` // Prometheus metrics configuration
	Status       StatusConfig       `yaml:"status"`  // Local status API
	Logging      LoggingConfig      `yaml:"logging"`
}

// ControlPlaneConfig contains control-plane API settings
type ControlPlaneConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"` // Re-read when the file changes

	Timeout             time.Duration `yaml:"timeout"`               // Per request. Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"` // Default: 5s
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`         // Default: 5s
	ReconnectBudget     time.Duration `yaml:"reconnect_budget"`      // Default: 300s
	MaxAttempts         int           `yaml:"max_attempts"`          // Default: 5
	FailureThreshold    int           `yaml:"failure_threshold"`     // Default: 10
	BackoffBase         float64       `yaml:"backoff_base"`          // Default: 2
	MaxBackoff          time.Duration `yaml:"max_backoff"`           // Default: 300s
	DefaultRetryAfter   time.Duration `yaml:"default_retry_after"`   // Used when 429 has no Retry-After. Default: 60s
}

// DispatcherConfig contains poll loop settings
type DispatcherConfig struct {
	Interval             time.Duration `yaml:"interval"`               // Default: 15s
	SeenCleanupCycles    int           `yaml:"seen_cleanup_cycles"`    // Default: 10
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"` // Default: 5
	MaxConcurrentJobs    int           `yaml:"max_concurrent_jobs"`    // 0 = unbounded
}

// CampaignConfig contains campaign defaults; per-campaign settings override them
type CampaignConfig struct {
	StaggerDelay      time.Duration `yaml:"stagger_delay"`       // Default: 3s
	MaxProfileRetries int           `yaml:"max_profile_retries"` // Default: 3
	DefaultDelayMin   time.Duration `yaml:"default_delay_min"`   // Default: 60s
	DefaultDelayMax   time.Duration `yaml:"default_delay_max"`   // Default: 120s
}

// BrowserConfig contains automation browser settings
type BrowserConfig struct {
	Engine             string          `yaml:"engine"` // firefox, chromium, webkit
	Headless           bool            `yaml:"headless"`
	SkipInstall        bool            `yaml:"skip_install"`
	ProfilesDir        string          `yaml:"profiles_dir"`
	HomeURL            string          `yaml:"home_url"`
	ComposeURL         string          `yaml:"compose_url"` // {recipient} is replaced by the recipient
	NavigationTimeout  time.Duration   `yaml:"navigation_timeout"`
	MessagePlaceholder string          `yaml:"message_placeholder"`
	Selectors          SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig contains page selectors in Playwright syntax
type SelectorsConfig struct {
	MessageInput     string `yaml:"message_input"`
	SendButton       string `yaml:"send_button"`
	SendFailed       string `yaml:"send_failed"`
	RecipientMissing string `yaml:"recipient_missing"`
	UnreadBadge      string `yaml:"unread_badge"`
}

// StorageConfig contains local storage settings
type StorageConfig struct {
	Path string `yaml:"path"` // Send journal database
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// StatusConfig contains local status API settings
type StatusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: 127.0.0.1:8765
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied and no token
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	cp := &c.ControlPlane
	if cp.BaseURL == "" {
		cp.BaseURL = "https://api.leadmify.com"
	}
	cp.BaseURL = strings.TrimRight(cp.BaseURL, "/")
	if cp.Timeout == 0 {
		cp.Timeout = 30 * time.Second
	}
	if cp.HealthCheckInterval == 0 {
		cp.HealthCheckInterval = 5 * time.Second
	}
	if cp.ProbeTimeout == 0 {
		cp.ProbeTimeout = 5 * time.Second
	}
	if cp.ReconnectBudget == 0 {
		cp.ReconnectBudget = 300 * time.Second
	}
	if cp.MaxAttempts == 0 {
		cp.MaxAttempts = 5
	}
	if cp.FailureThreshold == 0 {
		cp.FailureThreshold = 10
	}
	if cp.BackoffBase == 0 {
		cp.BackoffBase = 2
	}
	if cp.MaxBackoff == 0 {
		cp.MaxBackoff = 300 * time.Second
	}
	if cp.DefaultRetryAfter == 0 {
		cp.DefaultRetryAfter = 60 * time.Second
	}

	if c.Dispatcher.Interval == 0 {
		c.Dispatcher.Interval = 15 * time.Second
	}
	if c.Dispatcher.SeenCleanupCycles == 0 {
		c.Dispatcher.SeenCleanupCycles = 10
	}
	if c.Dispatcher.MaxConsecutiveErrors == 0 {
		c.Dispatcher.MaxConsecutiveErrors = 5
	}

	if c.Campaign.StaggerDelay == 0 {
		c.Campaign.StaggerDelay = 3 * time.Second
	}
	if c.Campaign.MaxProfileRetries == 0 {
		c.Campaign.MaxProfileRetries = 3
	}
	if c.Campaign.DefaultDelayMin == 0 {
		c.Campaign.DefaultDelayMin = 60 * time.Second
	}
	if c.Campaign.DefaultDelayMax == 0 {
		c.Campaign.DefaultDelayMax = 120 * time.Second
	}

	b := &c.Browser
	if b.Engine == "" {
		b.Engine = "firefox"
	}
	if b.HomeURL == "" {
		b.HomeURL = "https://www.instagram.com"
	}
	if b.ComposeURL == "" {
		b.ComposeURL = "https://ig.me/m/{recipient}"
	}
	if b.NavigationTimeout == 0 {
		b.NavigationTimeout = 30 * time.Second
	}
	if b.MessagePlaceholder == "" {
		b.MessagePlaceholder = "{username}"
	}
	if b.Selectors.MessageInput == "" {
		b.Selectors.MessageInput = `div[role="textbox"][aria-label="Message"]`
	}
	if b.Selectors.SendButton == "" {
		b.Selectors.SendButton = `div[role="button"]:has-text("Send")`
	}
	if b.Selectors.SendFailed == "" {
		b.Selectors.SendFailed = `[aria-label*="Failed"]`
	}
	if b.Selectors.RecipientMissing == "" {
		b.Selectors.RecipientMissing = `text="Sorry, this page isn't available."`
	}
	if b.Selectors.UnreadBadge == "" {
		b.Selectors.UnreadBadge = `a[href*="/direct/inbox"] span`
	}

	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath()
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Status.ListenAddr == "" {
		c.Status.ListenAddr = "127.0.0.1:8765"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "leadmify-journal.db"
	}
	return filepath.Join(dir, "leadmify", "journal.db")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.ControlPlane.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid control_plane.base_url: %q", c.ControlPlane.BaseURL)
	}
	if c.ControlPlane.Token == "" && c.ControlPlane.TokenFile == "" {
		return fmt.Errorf("control_plane.token or control_plane.token_file is required")
	}
	if c.ControlPlane.MaxAttempts < 1 {
		return fmt.Errorf("control_plane.max_attempts must be positive")
	}
	if c.ControlPlane.BackoffBase < 1 {
		return fmt.Errorf("control_plane.backoff_base must be at least 1")
	}

	durations := map[string]time.Duration{
		"control_plane.timeout":               c.ControlPlane.Timeout,
		"control_plane.health_check_interval": c.ControlPlane.HealthCheckInterval,
		"control_plane.probe_timeout":         c.ControlPlane.ProbeTimeout,
		"control_plane.reconnect_budget":      c.ControlPlane.ReconnectBudget,
		"dispatcher.interval":                 c.Dispatcher.Interval,
		"browser.navigation_timeout":          c.Browser.NavigationTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Dispatcher.SeenCleanupCycles < 1 {
		return fmt.Errorf("dispatcher.seen_cleanup_cycles must be positive")
	}
	if c.Dispatcher.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("dispatcher.max_consecutive_errors must be positive")
	}
	if c.Dispatcher.MaxConcurrentJobs < 0 {
		return fmt.Errorf("dispatcher.max_concurrent_jobs must not be negative")
	}

	if c.Campaign.StaggerDelay < 0 {
		return fmt.Errorf("campaign.stagger_delay must not be negative")
	}
	if c.Campaign.MaxProfileRetries < 1 {
		return fmt.Errorf("campaign.max_profile_retries must be positive")
	}
	if c.Campaign.DefaultDelayMin < 0 || c.Campaign.DefaultDelayMin > c.Campaign.DefaultDelayMax {
		return fmt.Errorf("campaign.default_delay_min must be between 0 and campaign.default_delay_max")
	}

	validEngines := map[string]bool{"firefox": true, "chromium": true, "webkit": true}
	if !validEngines[c.Browser.Engine] {
		return fmt.Errorf("invalid browser.engine: %s (must be firefox, chromium, or webkit)", c.Browser.Engine)
	}
	if !strings.Contains(c.Browser.ComposeURL, "{recipient}") {
		return fmt.Errorf("browser.compose_url must contain {recipient}")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
