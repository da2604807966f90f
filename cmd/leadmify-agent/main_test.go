package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leadmify/agent/internal/config"
	"github.com/leadmify/agent/internal/inventory"
)

func resetInitFlags(t *testing.T) {
	t.Helper()
	initBaseURL = "https://api.example.com"
	initToken = ""
	initTokenFile = ""
	initDataDir = t.TempDir()
	initProfilesDir = ""
	initHeadless = false
	initMetrics = false
}

func TestGenerateConfigLoads(t *testing.T) {
	resetInitFlags(t)
	initToken = "secret"
	initHeadless = true

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(generateConfig()), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.ControlPlane.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q", cfg.ControlPlane.BaseURL)
	}
	if cfg.ControlPlane.Token != "secret" {
		t.Errorf("Token = %q, want secret", cfg.ControlPlane.Token)
	}
	if !cfg.Browser.Headless {
		t.Error("Headless should be true")
	}
	if cfg.Storage.Path != filepath.Join(initDataDir, "journal.db") {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
}

func TestGenerateConfigWithTokenFile(t *testing.T) {
	resetInitFlags(t)
	initTokenFile = "/etc/leadmify/token"
	initProfilesDir = "/home/agent/profiles"
	initMetrics = true

	config := generateConfig()

	checks := []string{
		`token_file: "/etc/leadmify/token"`,
		`profiles_dir: "/home/agent/profiles"`,
		"metrics:\n  enabled: true",
	}
	for _, check := range checks {
		if !strings.Contains(config, check) {
			t.Errorf("Generated config missing: %s", check)
		}
	}
	if strings.Contains(config, "  token: ") {
		t.Error("inline token should not be written when a token file is used")
	}
}

func TestListProfiles(t *testing.T) {
	m := inventory.NewManager(t.TempDir())

	var buf bytes.Buffer
	if err := listProfiles(&buf, m, false); err != nil {
		t.Fatalf("listProfiles() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No profiles") {
		t.Errorf("empty listing = %q", buf.String())
	}

	path, err := m.Create("work")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	buf.Reset()
	if err := listProfiles(&buf, m, false); err != nil {
		t.Fatalf("listProfiles() error = %v", err)
	}
	if !strings.Contains(buf.String(), path) {
		t.Errorf("listing %q does not contain %s", buf.String(), path)
	}

	buf.Reset()
	if err := listProfiles(&buf, m, true); err != nil {
		t.Fatalf("listProfiles(json) error = %v", err)
	}
	var listing inventory.Listing
	if err := json.Unmarshal(buf.Bytes(), &listing); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(listing.Profiles) != 1 || listing.Profiles[0].Path != path {
		t.Errorf("listing = %+v", listing)
	}
}

func TestProfileManagerPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	data := "control_plane:\n  token: x\nbrowser:\n  profiles_dir: " + dir + "\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	oldCfg, oldDir := cfgFile, profilesDirFlag
	defer func() { cfgFile, profilesDirFlag = oldCfg, oldDir }()

	cfgFile, profilesDirFlag = cfgPath, ""
	m, err := profileManager()
	if err != nil {
		t.Fatalf("profileManager() error = %v", err)
	}
	if m.Dir() != dir {
		t.Errorf("Dir() = %q, want %q from config", m.Dir(), dir)
	}

	profilesDirFlag = "/override"
	m, err = profileManager()
	if err != nil {
		t.Fatalf("profileManager() error = %v", err)
	}
	if m.Dir() != "/override" {
		t.Errorf("Dir() = %q, want /override", m.Dir())
	}
}
