package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadmify/agent/internal/controlplane"
)

// ErrProfileBusy is returned when deleting a profile that a job or session is using
var ErrProfileBusy = errors.New("profile is currently in use and cannot be deleted")

func (e *Executor) listProfiles(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	listing, err := e.deps.Inventory.List()
	if err != nil {
		return outcome{err: err}
	}
	logger.Info("profiles listed", "count", len(listing.Profiles))
	return outcome{results: listing}
}

func (e *Executor) createProfile(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	path, err := e.deps.Inventory.Create(req.ProfileName)
	if err != nil {
		return outcome{err: err}
	}
	logger.Info("profile created", "profile_path", path, "is_default", req.IsDefault)
	return outcome{results: map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Profile %q created successfully", req.ProfileName),
		"profile_path": path,
		"profile_name": req.ProfileName,
	}}
}

func (e *Executor) deleteProfile(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	path := req.ProfilePath
	if path == "" {
		return outcome{err: errors.New("profile_path is required")}
	}

	// Hold the lease for the duration of the delete so no job can pick the profile up
	if !e.deps.Leases.TryAcquire(path) {
		return outcome{err: ErrProfileBusy}
	}
	defer e.deps.Leases.Release(path)

	if err := e.deps.Inventory.Delete(path); err != nil {
		return outcome{err: err}
	}
	logger.Info("profile deleted", "profile_path", path)
	return outcome{results: map[string]any{
		"success":      true,
		"message":      "Profile deleted successfully",
		"deleted_path": path,
	}}
}

func (e *Executor) testProfile(ctx context.Context, logger *slog.Logger, req controlplane.WorkRequest) outcome {
	if err := e.deps.Inventory.Validate(req.ProfilePath); err != nil {
		return outcome{err: err}
	}
	return outcome{results: map[string]any{"valid": true}}
}
