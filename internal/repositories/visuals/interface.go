// Package visuals persists visual artifacts (screenshots, recordings)
// attached to commits and tracks their object-storage linkage.
package visuals

import (
	"context"

	"codetrail/internal/models"
)

// Repository describes CRUD over visuals plus the upload-state queries the
// push engine uses. Returns common.ErrNotFound for missing ids.
type Repository interface {
	// Create inserts a new visual record.
	Create(ctx context.Context, v *models.Visual) error

	// GetByID returns one visual.
	GetByID(ctx context.Context, id string) (*models.Visual, error)

	// GetByCommitID returns the visuals attached to a commit, oldest first.
	GetByCommitID(ctx context.Context, commitID string) ([]*models.Visual, error)

	// GetPendingUpload returns visuals that have not been uploaded yet.
	GetPendingUpload(ctx context.Context, commitID string) ([]*models.Visual, error)

	// SetCloudLink records the public URL and object key after an upload.
	SetCloudLink(ctx context.Context, id, cloudURL, storageKey string) error

	// GetAllWithStorageKey returns every uploaded visual, for remote wipe.
	GetAllWithStorageKey(ctx context.Context) ([]*models.Visual, error)

	// DeleteByID removes one visual record.
	DeleteByID(ctx context.Context, id string) error
}
