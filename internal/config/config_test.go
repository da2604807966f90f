package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
control_plane:
  base_url: "https://cp.example.com/"
  token: "secret"
  timeout: 10s
  max_attempts: 3
  default_retry_after: 30s

dispatcher:
  interval: 5s
  seen_cleanup_cycles: 20
  max_concurrent_jobs: 8

campaign:
  stagger_delay: 1s
  max_profile_retries: 2
  default_delay_min: 10s
  default_delay_max: 20s

browser:
  engine: "chromium"
  headless: true
  profiles_dir: "/srv/profiles"
  compose_url: "https://example.com/dm/{recipient}"
  selectors:
    message_input: "#msg"

storage:
  path: "/tmp/journal.db"

metrics:
  enabled: true
  allowed_ips:
    - "10.0.0.0/8"

status:
  enabled: true
  listen_addr: "127.0.0.1:9999"

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ControlPlane.BaseURL != "https://cp.example.com" {
		t.Errorf("ControlPlane.BaseURL = %v, want trailing slash trimmed", cfg.ControlPlane.BaseURL)
	}
	if cfg.ControlPlane.Token != "secret" {
		t.Errorf("ControlPlane.Token = %v, want secret", cfg.ControlPlane.Token)
	}
	if cfg.ControlPlane.Timeout != 10*time.Second {
		t.Errorf("ControlPlane.Timeout = %v, want 10s", cfg.ControlPlane.Timeout)
	}
	if cfg.ControlPlane.MaxAttempts != 3 {
		t.Errorf("ControlPlane.MaxAttempts = %v, want 3", cfg.ControlPlane.MaxAttempts)
	}
	if cfg.ControlPlane.DefaultRetryAfter != 30*time.Second {
		t.Errorf("ControlPlane.DefaultRetryAfter = %v, want 30s", cfg.ControlPlane.DefaultRetryAfter)
	}
	if cfg.Dispatcher.Interval != 5*time.Second || cfg.Dispatcher.SeenCleanupCycles != 20 || cfg.Dispatcher.MaxConcurrentJobs != 8 {
		t.Errorf("unexpected dispatcher config: %+v", cfg.Dispatcher)
	}
	if cfg.Campaign.MaxProfileRetries != 2 || cfg.Campaign.DefaultDelayMax != 20*time.Second {
		t.Errorf("unexpected campaign config: %+v", cfg.Campaign)
	}
	if cfg.Browser.Engine != "chromium" || !cfg.Browser.Headless || cfg.Browser.ProfilesDir != "/srv/profiles" {
		t.Errorf("unexpected browser config: %+v", cfg.Browser)
	}
	if cfg.Browser.Selectors.MessageInput != "#msg" {
		t.Errorf("Selectors.MessageInput = %v, want #msg", cfg.Browser.Selectors.MessageInput)
	}
	if cfg.Browser.Selectors.SendButton == "" {
		t.Error("unset selectors should get defaults")
	}
	if cfg.Storage.Path != "/tmp/journal.db" {
		t.Errorf("Storage.Path = %v, want /tmp/journal.db", cfg.Storage.Path)
	}
	if !cfg.Metrics.Enabled || len(cfg.Metrics.AllowedIPs) != 1 {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
	if cfg.Status.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("Status.ListenAddr = %v, want 127.0.0.1:9999", cfg.Status.ListenAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
control_plane:
  token_file: "/etc/leadmify/token"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"ControlPlane.BaseURL", cfg.ControlPlane.BaseURL, "https://api.leadmify.com"},
		{"ControlPlane.Timeout", cfg.ControlPlane.Timeout, 30 * time.Second},
		{"ControlPlane.HealthCheckInterval", cfg.ControlPlane.HealthCheckInterval, 5 * time.Second},
		{"ControlPlane.ReconnectBudget", cfg.ControlPlane.ReconnectBudget, 300 * time.Second},
		{"ControlPlane.MaxAttempts", cfg.ControlPlane.MaxAttempts, 5},
		{"ControlPlane.FailureThreshold", cfg.ControlPlane.FailureThreshold, 10},
		{"ControlPlane.BackoffBase", cfg.ControlPlane.BackoffBase, 2.0},
		{"ControlPlane.MaxBackoff", cfg.ControlPlane.MaxBackoff, 300 * time.Second},
		{"ControlPlane.DefaultRetryAfter", cfg.ControlPlane.DefaultRetryAfter, 60 * time.Second},
		{"Dispatcher.Interval", cfg.Dispatcher.Interval, 15 * time.Second},
		{"Dispatcher.SeenCleanupCycles", cfg.Dispatcher.SeenCleanupCycles, 10},
		{"Dispatcher.MaxConsecutiveErrors", cfg.Dispatcher.MaxConsecutiveErrors, 5},
		{"Dispatcher.MaxConcurrentJobs", cfg.Dispatcher.MaxConcurrentJobs, 0},
		{"Campaign.StaggerDelay", cfg.Campaign.StaggerDelay, 3 * time.Second},
		{"Campaign.MaxProfileRetries", cfg.Campaign.MaxProfileRetries, 3},
		{"Campaign.DefaultDelayMin", cfg.Campaign.DefaultDelayMin, 60 * time.Second},
		{"Campaign.DefaultDelayMax", cfg.Campaign.DefaultDelayMax, 120 * time.Second},
		{"Browser.Engine", cfg.Browser.Engine, "firefox"},
		{"Browser.MessagePlaceholder", cfg.Browser.MessagePlaceholder, "{username}"},
		{"Metrics.ListenAddr", cfg.Metrics.ListenAddr, ":9090"},
		{"Metrics.Path", cfg.Metrics.Path, "/metrics"},
		{"Status.ListenAddr", cfg.Status.ListenAddr, "127.0.0.1:8765"},
		{"Logging.Level", cfg.Logging.Level, "info"},
		{"Logging.Format", cfg.Logging.Format, "text"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if cfg.Storage.Path == "" {
		t.Error("Storage.Path should have a default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "token file instead of token",
			mutate:  func(c *Config) { c.ControlPlane.Token = ""; c.ControlPlane.TokenFile = "/tmp/token" },
			wantErr: false,
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.ControlPlane.Token = "" },
			wantErr: true,
		},
		{
			name:    "relative base url",
			mutate:  func(c *Config) { c.ControlPlane.BaseURL = "/api" },
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *Config) { c.ControlPlane.BaseURL = "ftp://cp.example.com" },
			wantErr: true,
		},
		{
			name:    "delay window inverted",
			mutate:  func(c *Config) { c.Campaign.DefaultDelayMin = 5 * time.Minute },
			wantErr: true,
		},
		{
			name:    "zero dispatch interval",
			mutate:  func(c *Config) { c.Dispatcher.Interval = 0 },
			wantErr: true,
		},
		{
			name:    "negative job limit",
			mutate:  func(c *Config) { c.Dispatcher.MaxConcurrentJobs = -1 },
			wantErr: true,
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Browser.Engine = "netscape" },
			wantErr: true,
		},
		{
			name:    "compose url without recipient",
			mutate:  func(c *Config) { c.Browser.ComposeURL = "https://example.com/dm" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ControlPlane.Token = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingToken(t *testing.T) {
	if _, err := Load(writeConfig(t, "logging:\n  level: info\n")); err == nil {
		t.Error("Load() expected error without a token")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, `invalid: yaml: content: [`))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
