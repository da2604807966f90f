package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/inventory"
)

// UnreadResult is the unread count of one profile
type UnreadResult struct {
	ProfileName string  `json:"profile_name"`
	UnreadCount int     `json:"unread_count"`
	Error       *string `json:"error"`
}

// UnreadReport is the result payload of an unread check
type UnreadReport struct {
	Success         bool           `json:"success"`
	Results         []UnreadResult `json:"results"`
	TotalUnread     int            `json:"total_unread"`
	ProfilesChecked int            `json:"profiles_checked"`
}

func (e *Executor) unreadCheck(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	profiles, err := e.deps.API.ListProfiles(ctx)
	if err != nil {
		if errors.Is(err, controlplane.ErrTokenExpired) {
			return outcome{err: err}
		}
		return outcome{err: fmt.Errorf("failed to fetch profiles: %w", err)}
	}

	active := make([]controlplane.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.IsActive {
			active = append(active, p)
		}
	}

	ids, err := parseProfileIDs(req.ProfileIDs)
	if err != nil {
		logger.Warn("invalid profile_ids, checking all active profiles", "error", err)
	} else if ids != nil {
		active = filterProfiles(active, ids)
	}
	logger.Info("checking unread messages", "profiles", len(active))

	report := UnreadReport{Success: true, Results: make([]UnreadResult, 0, len(active))}
	for _, p := range active {
		if err := ctx.Err(); err != nil {
			return outcome{err: err}
		}
		res := e.checkProfile(ctx, p)
		if res.Error != nil {
			logger.Warn("unread check failed", "profile_path", p.Path, "error", *res.Error)
		}
		report.Results = append(report.Results, res)
		report.TotalUnread += res.UnreadCount
	}
	report.ProfilesChecked = len(report.Results)

	return outcome{results: report}
}

func (e *Executor) checkProfile(ctx context.Context, p controlplane.Profile) UnreadResult {
	res := UnreadResult{ProfileName: p.Name}
	if res.ProfileName == "" {
		res.ProfileName = "Unknown"
	}
	fail := func(msg string) UnreadResult {
		res.Error = &msg
		return res
	}

	if !inventory.Exists(p.Path) {
		return fail("Profile path does not exist")
	}
	if !e.deps.Leases.TryAcquire(p.Path) {
		return fail(ErrProfileInUse.Error())
	}
	defer e.deps.Leases.Release(p.Path)

	r, err := e.deps.Factory.Create(ctx, p.Path, browser.Options{})
	if err != nil {
		return fail(err.Error())
	}
	defer r.Close()

	n, err := r.UnreadCount(ctx)
	if err != nil {
		return fail(err.Error())
	}
	res.UnreadCount = n
	return res
}

// parseProfileIDs accepts a JSON array of ids or a JSON string holding one.
// A missing value yields nil.
func parseProfileIDs(raw json.RawMessage) ([]controlplane.ID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace([]byte(s))
		if len(raw) == 0 {
			return nil, nil
		}
	}

	var ids []controlplane.ID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("profile_ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func filterProfiles(profiles []controlplane.Profile, ids []controlplane.ID) []controlplane.Profile {
	want := make(map[controlplane.ID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]controlplane.Profile, 0, len(profiles))
	for _, p := range profiles {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
