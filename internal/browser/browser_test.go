package browser_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/browser/browsertest"
)

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    browser.Outcome
		want string
	}{
		{browser.Sent, "sent"},
		{browser.Rejected, "rejected"},
		{browser.NotFound, "not_found"},
		{browser.Outcome(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}

func TestSessions(t *testing.T) {
	f := browsertest.NewFactory()
	ctx := context.Background()
	s := browser.NewSessions()

	a, _ := f.Create(ctx, "/p/a", browser.Options{Headed: true})
	b, _ := f.Create(ctx, "/p/b", browser.Options{})
	dup, _ := f.Create(ctx, "/p/a", browser.Options{})

	if !s.Add(a) || !s.Add(b) {
		t.Fatal("Add() should accept new paths")
	}
	if s.Add(dup) {
		t.Error("Add() should refuse a second session for the same path")
	}
	if got, ok := s.Get("/p/a"); !ok || got != a {
		t.Error("Get() did not return the registered session")
	}

	if r, ok := s.Remove("/p/b"); !ok || r != b {
		t.Error("Remove() did not return the registered session")
	}
	if _, ok := s.Remove("/p/b"); ok {
		t.Error("second Remove() should report nothing")
	}

	s.Add(b)
	if diff := cmp.Diff([]string{"/p/a", "/p/b"}, s.CloseAll()); diff != "" {
		t.Errorf("CloseAll() mismatch (-want +got):\n%s", diff)
	}
	if a.Alive() || b.Alive() {
		t.Error("CloseAll() should close every session")
	}
	if len(s.Paths()) != 0 {
		t.Error("registry should be empty after CloseAll()")
	}
}

func TestSessionsRemoveDead(t *testing.T) {
	f := browsertest.NewFactory()
	ctx := context.Background()
	s := browser.NewSessions()

	live, _ := f.Create(ctx, "/p/live", browser.Options{})
	dead, _ := f.Create(ctx, "/p/dead", browser.Options{})
	s.Add(live)
	s.Add(dead)
	dead.(*browsertest.Resource).Kill()

	removed := s.RemoveDead()
	if len(removed) != 1 || removed[0] != dead {
		t.Fatalf("RemoveDead() = %v, want only the dead session", removed)
	}
	if diff := cmp.Diff([]string{"/p/live"}, s.Paths()); diff != "" {
		t.Errorf("Paths() mismatch (-want +got):\n%s", diff)
	}
	if len(s.RemoveDead()) != 0 {
		t.Error("second RemoveDead() should find nothing")
	}
}
