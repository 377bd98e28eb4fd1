// Package commits persists the commit aggregate (commit, sessions, turns) in
// the local SQLite database and exposes the version/status mutation
// primitives used by the sync engines.
package commits

import (
	"context"
	"time"

	"codetrail/internal/models"
)

// SyncMetadata is the set of sync columns updated atomically after a push or
// pull touches a commit.
type SyncMetadata struct {
	CloudID      string
	Status       models.SyncStatus
	CloudVersion int64
	LastSyncedAt *time.Time
	Error        string
}

// Repository describes aggregate CRUD and the sync-state queries over commits.
//
// Aggregate reads always return the commit with its sessions and turns in
// stored order. Returns common.ErrNotFound for missing ids.
type Repository interface {
	// Create inserts a new aggregate (commit, sessions, turns) transactionally.
	Create(ctx context.Context, c *models.Commit) error

	// GetByID returns the full aggregate.
	GetByID(ctx context.Context, id string) (*models.Commit, error)

	// GetByCloudID returns the aggregate whose cloud linkage matches cloudID.
	GetByCloudID(ctx context.Context, cloudID string) (*models.Commit, error)

	// GetBySyncStatus returns full aggregates in the given sync status.
	GetBySyncStatus(ctx context.Context, status models.SyncStatus) ([]*models.Commit, error)

	// GetAll returns every aggregate.
	GetAll(ctx context.Context) ([]*models.Commit, error)

	// UpdateSyncMetadata overwrites the sync columns of one commit.
	UpdateSyncMetadata(ctx context.Context, id string, meta SyncMetadata) error

	// IncrementLocalVersion moves local_version strictly past both its
	// current value and cloud_version, and flips the commit to pending (a
	// local mutation by definition awaits upload, and must stay detectable
	// as such however far the cloud counter has been advanced).
	IncrementLocalVersion(ctx context.Context, id string) error

	// ResetAllSyncStatus flips every commit to pending and clears cloud
	// linkage and versions (full re-push).
	ResetAllSyncStatus(ctx context.Context) error

	// ReplaceFromRemote overwrites the stored fields and children of commit
	// id with the given aggregate, leaving the local id intact.
	ReplaceFromRemote(ctx context.Context, id string, c *models.Commit) error

	// DeleteByID hard-deletes the aggregate, cascading to sessions, turns
	// and visuals.
	DeleteByID(ctx context.Context, id string) error

	// CountByStatus returns commit counts grouped by sync status.
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)
}
