package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leadmify/agent/internal/browser/browsertest"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/inventory"
	"github.com/leadmify/agent/internal/lease"
)

type sentUpdate struct {
	Queue  controlplane.Queue
	ID     controlplane.ID
	Update controlplane.RequestUpdate
}

type fakeAPI struct {
	mu        sync.Mutex
	profiles  []controlplane.Profile
	listErr   error
	updateErr error
	updates   []sentUpdate
}

func (a *fakeAPI) UpdateRequest(ctx context.Context, q controlplane.Queue, id controlplane.ID, u controlplane.RequestUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, sentUpdate{q, id, u})
	return a.updateErr
}

func (a *fakeAPI) ListProfiles(ctx context.Context) ([]controlplane.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profiles, a.listErr
}

func (a *fakeAPI) statuses() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, u := range a.updates {
		out = append(out, u.Update.Status)
	}
	return out
}

func (a *fakeAPI) last() controlplane.RequestUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updates[len(a.updates)-1].Update
}

type fixture struct {
	api     *fakeAPI
	factory *browsertest.Factory
	leases  *lease.Tracker
	inv     *inventory.Manager
	exec    *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:     &fakeAPI{},
		factory: browsertest.NewFactory(),
		leases:  lease.NewTracker(),
		inv:     inventory.NewManager(t.TempDir()),
	}
	f.exec = NewExecutor(Deps{
		API:       f.api,
		Leases:    f.leases,
		Factory:   f.factory,
		Inventory: f.inv,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func mkdir(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(path, 0700); err != nil {
		t.Fatal(err)
	}
	return path
}

func strPtr(s string) *string { return &s }

func TestUnreadCheck(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	p1 := mkdir(t, filepath.Join(root, "one"))
	p4 := mkdir(t, filepath.Join(root, "four"))
	p5 := mkdir(t, filepath.Join(root, "five"))

	f.api.profiles = []controlplane.Profile{
		{ID: "1", Path: p1, Name: "one", IsActive: true},
		{ID: "2", Path: mkdir(t, filepath.Join(root, "two")), Name: "two", IsActive: false},
		{ID: "3", Path: filepath.Join(root, "missing"), Name: "three", IsActive: true},
		{ID: "4", Path: p4, Name: "four", IsActive: true},
		{ID: "5", Path: p5, Name: "five", IsActive: true},
	}
	f.factory.Unread[p1] = 3
	f.factory.Unread[p5] = 7
	f.leases.TryAcquire(p4)

	req := controlplane.WorkRequest{
		ID:         "77",
		Status:     controlplane.RequestPending,
		ProfileIDs: json.RawMessage(`"[1, \"3\", 4, null]"`),
	}
	if err := f.exec.Execute(context.Background(), controlplane.QueueUnreadCheck, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if diff := cmp.Diff([]string{"running", "completed"}, f.api.statuses()); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	got, ok := f.api.last().Results.(UnreadReport)
	if !ok {
		t.Fatalf("unexpected results type %T", f.api.last().Results)
	}
	want := UnreadReport{
		Success: true,
		Results: []UnreadResult{
			{ProfileName: "one", UnreadCount: 3},
			{ProfileName: "three", Error: strPtr("Profile path does not exist")},
			{ProfileName: "four", Error: strPtr("profile in use")},
		},
		TotalUnread:     3,
		ProfilesChecked: 3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	if f.factory.OpenCount() != 0 {
		t.Error("unread check left sessions open")
	}
	if f.leases.Held(p1) || !f.leases.Held(p4) {
		t.Error("unread check must release its own lease and keep foreign ones")
	}
}

func TestUnreadCheckProfilesFetchFails(t *testing.T) {
	f := newFixture(t)
	f.api.listErr = controlplane.ErrNoResponse

	if err := f.exec.Execute(context.Background(), controlplane.QueueUnreadCheck, controlplane.WorkRequest{ID: "1"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	last := f.api.last()
	if last.Status != controlplane.RequestFailed || !strings.Contains(last.ErrorMessage, "failed to fetch profiles") {
		t.Errorf("unexpected final update: %+v", last)
	}
}

func TestUnreadCheckTokenExpired(t *testing.T) {
	f := newFixture(t)
	f.api.listErr = controlplane.ErrTokenExpired

	err := f.exec.Execute(context.Background(), controlplane.QueueUnreadCheck, controlplane.WorkRequest{ID: "1"})
	if !errors.Is(err, controlplane.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if diff := cmp.Diff([]string{"running"}, f.api.statuses()); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestUnreadCheckConnectionLostFailsRequest(t *testing.T) {
	f := newFixture(t)
	f.api.listErr = controlplane.ErrConnectionLost

	if err := f.exec.Execute(context.Background(), controlplane.QueueUnreadCheck, controlplane.WorkRequest{ID: "1"}); err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if diff := cmp.Diff([]string{"running", "failed"}, f.api.statuses()); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if last := f.api.last(); !strings.Contains(last.ErrorMessage, "failed to fetch profiles") {
		t.Errorf("unexpected error message: %q", last.ErrorMessage)
	}
}

func TestParseProfileIDs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []controlplane.ID
		wantErr bool
	}{
		{"missing", ``, nil, false},
		{"null", `null`, nil, false},
		{"array", `[1, 2]`, []controlplane.ID{"1", "2"}, false},
		{"mixed", `["7", 8, null]`, []controlplane.ID{"7", "8"}, false},
		{"string encoded", `"[3,4]"`, []controlplane.ID{"3", "4"}, false},
		{"empty array", `[]`, nil, false},
		{"empty string", `""`, nil, false},
		{"garbage", `"abc"`, nil, true},
		{"object", `{"a":1}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProfileIDs(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseProfileIDs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseProfileIDs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenAndCloseProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := controlplane.WorkRequest{ID: "1", ProfilePath: "/p/a", ProfileName: "a", RequestType: "open"}

	if err := f.exec.Execute(ctx, controlplane.QueueProfiles, open); err != nil {
		t.Fatalf("Execute(open) error: %v", err)
	}
	if f.api.last().Status != controlplane.RequestCompleted {
		t.Fatalf("open not completed: %+v", f.api.last())
	}
	if !f.leases.Held("/p/a") {
		t.Error("open session must hold the profile lease")
	}
	res := f.factory.Resources()
	if len(res) != 1 || !res[0].Headed() {
		t.Fatalf("expected one visible session, got %d", len(res))
	}

	// Opening again completes without a running update or a new session
	open.ID = "2"
	if err := f.exec.Execute(ctx, controlplane.QueueProfiles, open); err != nil {
		t.Fatalf("Execute(open again) error: %v", err)
	}
	if diff := cmp.Diff([]string{"running", "completed", "completed"}, f.api.statuses()); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if f.factory.Created("/p/a") != 1 {
		t.Error("second open created another session")
	}

	closeReq := controlplane.WorkRequest{ID: "3", ProfilePath: "/p/a", RequestType: "close"}
	if err := f.exec.Execute(ctx, controlplane.QueueProfiles, closeReq); err != nil {
		t.Fatalf("Execute(close) error: %v", err)
	}
	if !res[0].Closed() || f.leases.Held("/p/a") {
		t.Error("close must close the session and release the lease")
	}
	if len(f.exec.Sessions().Paths()) != 0 {
		t.Error("session still registered after close")
	}
}

func TestOpenLeasedProfileFails(t *testing.T) {
	f := newFixture(t)
	f.leases.TryAcquire("/p/busy")

	req := controlplane.WorkRequest{ID: "1", ProfilePath: "/p/busy"}
	if err := f.exec.Execute(context.Background(), controlplane.QueueProfiles, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	last := f.api.last()
	if last.Status != controlplane.RequestFailed || last.ErrorMessage != "profile in use" {
		t.Errorf("unexpected final update: %+v", last)
	}
	if f.factory.Created("/p/busy") != 0 {
		t.Error("leased profile was opened")
	}
}

func TestOpenCreateFailureReleasesLease(t *testing.T) {
	f := newFixture(t)
	f.factory.CreateErr = func(string) error { return errors.New("no display") }

	req := controlplane.WorkRequest{ID: "1", ProfilePath: "/p/a"}
	if err := f.exec.Execute(context.Background(), controlplane.QueueProfiles, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if f.api.last().Status != controlplane.RequestFailed {
		t.Errorf("unexpected final update: %+v", f.api.last())
	}
	if f.leases.Held("/p/a") {
		t.Error("lease not released after a failed open")
	}
}

func TestReopenAfterWindowClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := controlplane.WorkRequest{ID: "1", ProfilePath: "/p/a"}

	if err := f.exec.Execute(ctx, controlplane.QueueProfiles, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	f.factory.Resources()[0].Kill()

	req.ID = "2"
	if err := f.exec.Execute(ctx, controlplane.QueueProfiles, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if f.api.last().Status != controlplane.RequestCompleted {
		t.Fatalf("reopen failed: %+v", f.api.last())
	}
	if f.factory.Created("/p/a") != 2 || !f.leases.Held("/p/a") {
		t.Error("expected a fresh session holding the lease")
	}
}

func TestReapAndCloseSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, p := range []string{"/p/a", "/p/b"} {
		req := controlplane.WorkRequest{ID: controlplane.ID(fmt.Sprint(i + 1)), ProfilePath: p}
		if err := f.exec.Execute(ctx, controlplane.QueueProfiles, req); err != nil {
			t.Fatalf("Execute() error: %v", err)
		}
	}
	f.factory.Resources()[0].Kill()

	if n := f.exec.ReapSessions(); n != 1 {
		t.Errorf("ReapSessions() = %d, want 1", n)
	}
	if f.leases.Held("/p/a") || !f.leases.Held("/p/b") {
		t.Error("reap must release only the dead session's lease")
	}

	if diff := cmp.Diff([]string{"/p/b"}, f.exec.CloseSessions()); diff != "" {
		t.Errorf("CloseSessions() mismatch (-want +got):\n%s", diff)
	}
	if f.leases.Len() != 0 || f.factory.OpenCount() != 0 {
		t.Error("CloseSessions() left leases or sessions behind")
	}
}

func TestInventoryRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := controlplane.QueueProfileInventory

	if err := f.exec.Execute(ctx, q, controlplane.WorkRequest{ID: "1", RequestType: "create", ProfileName: "fresh"}); err != nil {
		t.Fatalf("Execute(create) error: %v", err)
	}
	created, ok := f.api.last().Results.(map[string]any)
	if !ok || created["success"] != true {
		t.Fatalf("unexpected create results: %+v", f.api.last())
	}
	path := created["profile_path"].(string)

	if err := f.exec.Execute(ctx, q, controlplane.WorkRequest{ID: "2", RequestType: "list"}); err != nil {
		t.Fatalf("Execute(list) error: %v", err)
	}
	listing, ok := f.api.last().Results.(*inventory.Listing)
	if !ok || len(listing.Profiles) != 1 || listing.Profiles[0].Path != path {
		t.Fatalf("unexpected list results: %+v", f.api.last().Results)
	}

	if err := f.exec.Execute(ctx, q, controlplane.WorkRequest{ID: "3", RequestType: "test", ProfilePath: path}); err != nil {
		t.Fatalf("Execute(test) error: %v", err)
	}
	if f.api.last().Status != controlplane.RequestCompleted {
		t.Errorf("test of a valid profile failed: %+v", f.api.last())
	}

	f.leases.TryAcquire(path)
	if err := f.exec.Execute(ctx, q, controlplane.WorkRequest{ID: "4", RequestType: "delete", ProfilePath: path}); err != nil {
		t.Fatalf("Execute(delete) error: %v", err)
	}
	if last := f.api.last(); last.Status != controlplane.RequestFailed || last.ErrorMessage != ErrProfileBusy.Error() {
		t.Errorf("delete of a leased profile: %+v", last)
	}
	if !inventory.Exists(path) {
		t.Fatal("leased profile was deleted")
	}

	f.leases.Release(path)
	if err := f.exec.Execute(ctx, q, controlplane.WorkRequest{ID: "5", RequestType: "delete", ProfilePath: path}); err != nil {
		t.Fatalf("Execute(delete) error: %v", err)
	}
	if f.api.last().Status != controlplane.RequestCompleted || inventory.Exists(path) {
		t.Errorf("delete failed: %+v", f.api.last())
	}

	if err := f.exec.Execute(ctx, q, controlplane.WorkRequest{ID: "6", RequestType: "test", ProfilePath: path}); err != nil {
		t.Fatalf("Execute(test) error: %v", err)
	}
	if last := f.api.last(); last.Status != controlplane.RequestFailed || last.ErrorMessage != inventory.ErrNotFound.Error() {
		t.Errorf("test of a deleted profile: %+v", last)
	}
}

func TestUnknownRequestType(t *testing.T) {
	f := newFixture(t)

	req := controlplane.WorkRequest{ID: "1", RequestType: "format"}
	if err := f.exec.Execute(context.Background(), controlplane.QueueProfileInventory, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if diff := cmp.Diff([]string{"failed"}, f.api.statuses()); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteReportsUndeliveredStatus(t *testing.T) {
	f := newFixture(t)
	f.api.updateErr = controlplane.ErrNoResponse

	req := controlplane.WorkRequest{ID: "1", RequestType: "close", ProfilePath: "/p/a"}
	err := f.exec.Execute(context.Background(), controlplane.QueueProfiles, req)
	if !errors.Is(err, controlplane.ErrNoResponse) {
		t.Errorf("expected the undelivered status error, got %v", err)
	}
}
