// Package inventory manages browser profile directories on the local disk.
package inventory

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for a profile path that does not exist
	ErrNotFound = errors.New("profile does not exist")

	// ErrInvalid is returned by Validate for a directory that is not a usable profile
	ErrInvalid = errors.New("invalid profile")

	// ErrOutsideDir is returned when a path is not inside the profiles directory
	ErrOutsideDir = errors.New("path is outside the profiles directory")
)

const prefsFile = "prefs.js"

// Profile is one profile directory
type Profile struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	SizeMB float64 `json:"size_mb"`
}

// Listing is the result of List
type Listing struct {
	Profiles []Profile `json:"profiles"`
	Dir      string    `json:"profiles_dir"`
}

// Manager lists, creates, deletes and validates profiles under one directory
type Manager struct {
	dir string
}

// NewManager creates a manager for dir. An empty dir selects DefaultDir.
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Manager{dir: filepath.Clean(dir)}
}

// DefaultDir returns the Firefox profiles directory of the current user
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Mozilla", "Firefox", "Profiles")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox", "Profiles")
	default:
		return filepath.Join(home, ".mozilla", "firefox")
	}
}

// Dir returns the profiles directory
func (m *Manager) Dir() string {
	return m.dir
}

// List returns every profile directory, sorted by name
func (m *Manager) List() (*Listing, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("profiles directory not found: %s", m.dir)
		}
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	listing := &Listing{Profiles: []Profile{}, Dir: m.dir}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		size, err := dirSize(path)
		if err != nil {
			// Unreadable profiles are left out
			continue
		}
		listing.Profiles = append(listing.Profiles, Profile{
			Name:   e.Name(),
			Path:   path,
			SizeMB: math.Round(float64(size)/(1024*1024)*100) / 100,
		})
	}

	sort.Slice(listing.Profiles, func(i, j int) bool {
		return listing.Profiles[i].Name < listing.Profiles[j].Name
	})
	return listing, nil
}

// Create makes a new profile directory named "<id>.<name>" with minimal preference files
// and returns its path
func (m *Manager) Create(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("profile name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid profile name: %q", name)
	}

	id := uuid.New().String()[:8]
	path := filepath.Join(m.dir, id+"."+name)

	if err := os.MkdirAll(path, 0700); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}

	files := map[string]string{
		prefsFile: "// Firefox profile preferences\n" +
			"user_pref(\"browser.startup.homepage\", \"about:blank\");\n" +
			"user_pref(\"browser.startup.page\", 0);\n",
		"user.js": "// User preferences\n" +
			"user_pref(\"browser.shell.checkDefaultBrowser\", false);\n" +
			"user_pref(\"browser.startup.homepage\", \"about:blank\");\n",
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(path, file), []byte(content), 0600); err != nil {
			os.RemoveAll(path)
			return "", fmt.Errorf("failed to write %s: %w", file, err)
		}
	}

	return path, nil
}

// Delete removes a profile directory. The path must be inside the profiles directory.
func (m *Manager) Delete(path string) error {
	path, err := m.contained(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Validate checks that path is a profile directory with a prefs.js file
func (m *Manager) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory", ErrInvalid)
	}
	if _, err := os.Stat(filepath.Join(path, prefsFile)); err != nil {
		return fmt.Errorf("%w: missing %s file", ErrInvalid, prefsFile)
	}
	return nil
}

// Exists reports whether path exists
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) contained(path string) (string, error) {
	if path == "" {
		return "", errors.New("profile path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	dir, err := filepath.Abs(m.dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideDir
	}
	return abs, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	return size, err
}
