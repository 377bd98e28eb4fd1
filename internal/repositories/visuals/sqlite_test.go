package visuals

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"codetrail/internal/common"
	"codetrail/internal/models"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE visuals (
  id TEXT PRIMARY KEY,
  commit_id TEXT NOT NULL,
  path TEXT NOT NULL,
  cloud_url TEXT NOT NULL DEFAULT '',
  storage_key TEXT NOT NULL DEFAULT '',
  captured_at TEXT NOT NULL,
  caption TEXT NOT NULL DEFAULT ''
);`)
	require.NoError(t, err)
	return db
}

func sampleVisual(id, commitID string) *models.Visual {
	return &models.Visual{
		ID:         id,
		CommitID:   commitID,
		Path:       "/tmp/" + id + ".png",
		CapturedAt: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		Caption:    "before/after",
	}
}

func TestCreateAndGetByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	orig := sampleVisual("v1", "c1")
	require.NoError(t, r.Create(ctx, orig))

	got, err := r.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, orig.Path, got.Path)
	assert.Equal(t, orig.CapturedAt, got.CapturedAt)
	assert.False(t, got.Uploaded())

	_, err = r.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPendingUploadAndSetCloudLink(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, sampleVisual("v1", "c1")))
	require.NoError(t, r.Create(ctx, sampleVisual("v2", "c1")))
	require.NoError(t, r.Create(ctx, sampleVisual("v3", "c2")))

	pending, err := r.GetPendingUpload(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, r.SetCloudLink(ctx, "v1",
		"https://cdn.example.com/u1/c1/v1.png", "users/u1/c1/v1"))

	pending, err = r.GetPendingUpload(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "v2", pending[0].ID)

	got, err := r.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.Uploaded())
	assert.Equal(t, "users/u1/c1/v1", got.StorageKey)

	assert.ErrorIs(t, r.SetCloudLink(ctx, "missing", "u", "k"), common.ErrNotFound)
}

func TestGetAllWithStorageKey(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, sampleVisual("v1", "c1")))
	require.NoError(t, r.Create(ctx, sampleVisual("v2", "c2")))
	require.NoError(t, r.SetCloudLink(ctx, "v2", "https://cdn/x", "users/u1/c2/v2"))

	uploaded, err := r.GetAllWithStorageKey(ctx)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	assert.Equal(t, "v2", uploaded[0].ID)
}

func TestDeleteByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, sampleVisual("v1", "c1")))
	require.NoError(t, r.DeleteByID(ctx, "v1"))
	assert.ErrorIs(t, r.DeleteByID(ctx, "v1"), common.ErrNotFound)
}
