package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateAndList(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	path, err := m.Create("work")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("profile created outside %s: %s", dir, path)
	}
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".work") || len(base) != len("12345678.work") {
		t.Errorf("unexpected profile directory name %q", base)
	}
	if err := m.Validate(path); err != nil {
		t.Errorf("Validate() of a fresh profile: %v", err)
	}

	// Stray files are not profiles
	if err := os.WriteFile(filepath.Join(dir, "profiles.ini"), []byte("[General]\n"), 0600); err != nil {
		t.Fatal(err)
	}

	listing, err := m.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if listing.Dir != dir {
		t.Errorf("Dir = %s, want %s", listing.Dir, dir)
	}
	if len(listing.Profiles) != 1 || listing.Profiles[0].Path != path {
		t.Fatalf("unexpected profiles: %+v", listing.Profiles)
	}
	if listing.Profiles[0].SizeMB < 0 {
		t.Errorf("negative size: %v", listing.Profiles[0].SizeMB)
	}
}

func TestCreateRejectsBadNames(t *testing.T) {
	m := NewManager(t.TempDir())

	for _, name := range []string{"", "   ", "a/b", `a\b`, ".."} {
		if _, err := m.Create(name); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestListMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"))
	if _, err := m.List(); err == nil {
		t.Error("List() should fail for a missing directory")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	empty := filepath.Join(dir, "empty")
	if err := os.Mkdir(empty, 0700); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(dir, "missing"), ErrNotFound},
		{"no prefs", empty, ErrInvalid},
		{"not a directory", file, ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Validate(tt.path); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	path, err := m.Create("old")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := m.Delete(path); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if Exists(path) {
		t.Error("profile still exists after Delete()")
	}
	if err := m.Delete(path); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestDeleteRefusesPathsOutsideDir(t *testing.T) {
	root := t.TempDir()
	m := NewManager(filepath.Join(root, "profiles"))

	outside := filepath.Join(root, "other")
	if err := os.Mkdir(outside, 0700); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{outside, m.Dir(), filepath.Join(m.Dir(), "..", "other"), ""} {
		if err := m.Delete(path); err == nil {
			t.Errorf("Delete(%q) should fail", path)
		}
	}
	if !Exists(outside) {
		t.Error("directory outside the profiles dir was removed")
	}
}

func TestDefaultDir(t *testing.T) {
	if NewManager("").Dir() != filepath.Clean(DefaultDir()) {
		t.Error("empty dir should select DefaultDir()")
	}
}
