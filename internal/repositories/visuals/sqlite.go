package visuals

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"codetrail/internal/common"
	"codetrail/internal/dbx"
	"codetrail/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const visualColumns = `id, commit_id, path, cloud_url, storage_key, captured_at, caption`

func (r *SQLiteRepository) Create(ctx context.Context, v *models.Visual) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO visuals (`+visualColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.CommitID, v.Path, v.CloudURL, v.StorageKey,
		v.CapturedAt.UTC().Format(time.RFC3339Nano), v.Caption)
	if err != nil {
		return fmt.Errorf("failed to create visual: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Visual, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+visualColumns+` FROM visuals WHERE id = ?`, id)
	v, err := scanVisual(row)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visual: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) GetByCommitID(ctx context.Context, commitID string) ([]*models.Visual, error) {
	return r.listWhere(ctx, `commit_id = ?`, commitID)
}

func (r *SQLiteRepository) GetPendingUpload(ctx context.Context, commitID string) ([]*models.Visual, error) {
	return r.listWhere(ctx, `commit_id = ? AND cloud_url = ''`, commitID)
}

func (r *SQLiteRepository) GetAllWithStorageKey(ctx context.Context) ([]*models.Visual, error) {
	return r.listWhere(ctx, `storage_key != ''`)
}

func (r *SQLiteRepository) SetCloudLink(ctx context.Context, id, cloudURL, storageKey string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE visuals SET cloud_url = ?, storage_key = ? WHERE id = ?
	`, cloudURL, storageKey, id)
	if err != nil {
		return fmt.Errorf("failed to update visual cloud link: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM visuals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete visual: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) listWhere(ctx context.Context, where string, args ...any) ([]*models.Visual, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+visualColumns+` FROM visuals WHERE `+where+` ORDER BY captured_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visuals: %w", err)
	}
	defer rows.Close()

	var result []*models.Visual
	for rows.Next() {
		v, err := scanVisual(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visual row: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visual rows: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisual(row rowScanner) (*models.Visual, error) {
	var v models.Visual
	var capturedAt string
	if err := row.Scan(&v.ID, &v.CommitID, &v.Path, &v.CloudURL, &v.StorageKey,
		&capturedAt, &v.Caption); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid captured_at %q: %w", capturedAt, err)
	}
	v.CapturedAt = t
	return &v, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
