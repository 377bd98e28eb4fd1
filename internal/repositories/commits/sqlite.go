package commits

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codetrail/internal/common"
	"codetrail/internal/dbx"
	"codetrail/internal/models"
)

// SQLiteRepository implements Repository on the local database. Aggregate
// writes run inside a transaction via dbx.WithTx.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalPaths(paths []string) string {
	if len(paths) == 0 {
		return "[]"
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalPaths(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(s), &paths); err != nil {
		return nil
	}
	return paths
}

func (r *SQLiteRepository) Create(ctx context.Context, c *models.Commit) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return insertAggregate(ctx, tx, c)
	})
}

func insertAggregate(ctx context.Context, tx dbx.DBTX, c *models.Commit) error {
	var lastSynced any
	if c.LastSyncedAt != nil {
		lastSynced = fmtTime(*c.LastSyncedAt)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO commits (id, cloud_id, started_at, closed_at, close_reason,
			files_read, files_changed, project, agent, title,
			published, hidden, display_order,
			sync_status, cloud_version, local_version, last_synced_at, sync_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.CloudID, fmtTime(c.StartedAt), fmtTime(c.ClosedAt), string(c.CloseReason),
		marshalPaths(c.FilesRead), marshalPaths(c.FilesChanged), c.Project, c.Agent, c.Title,
		c.Published, c.Hidden, c.DisplayOrder,
		string(c.SyncStatus), c.CloudVersion, c.LocalVersion, lastSynced, c.SyncError)
	if err != nil {
		return fmt.Errorf("failed to insert commit: %w", err)
	}

	return insertChildren(ctx, tx, c)
}

func insertChildren(ctx context.Context, tx dbx.DBTX, c *models.Commit) error {
	for si := range c.Sessions {
		s := &c.Sessions[si]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, commit_id, seq, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET commit_id = excluded.commit_id,
				seq = excluded.seq,
				started_at = excluded.started_at,
				ended_at = excluded.ended_at
		`, s.ID, c.ID, si, fmtTime(s.StartedAt), fmtTime(s.EndedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert session %s: %w", s.ID, err)
		}

		for ti := range s.Turns {
			t := &s.Turns[ti]
			var toolCalls any
			if len(t.ToolCalls) > 0 {
				if b, err := json.Marshal(t.ToolCalls); err == nil {
					toolCalls = string(b)
				}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO turns (id, session_id, seq, role, content, timestamp, model, tool_calls, triggers_visual_update)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id,
					seq = excluded.seq,
					role = excluded.role,
					content = excluded.content,
					timestamp = excluded.timestamp,
					model = excluded.model,
					tool_calls = excluded.tool_calls,
					triggers_visual_update = excluded.triggers_visual_update
			`, t.ID, s.ID, ti, string(t.Role), t.Content, fmtTime(t.Timestamp), t.Model, toolCalls, t.TriggersVisualUpdate)
			if err != nil {
				return fmt.Errorf("failed to upsert turn %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

const commitColumns = `id, cloud_id, started_at, closed_at, close_reason,
	files_read, files_changed, project, agent, title,
	published, hidden, display_order,
	sync_status, cloud_version, local_version, last_synced_at, sync_error`

func scanCommit(row interface{ Scan(...any) error }) (*models.Commit, error) {
	c := &models.Commit{}
	var startedAt, closedAt, closeReason, filesRead, filesChanged, status string
	var lastSynced sql.NullString

	err := row.Scan(&c.ID, &c.CloudID, &startedAt, &closedAt, &closeReason,
		&filesRead, &filesChanged, &c.Project, &c.Agent, &c.Title,
		&c.Published, &c.Hidden, &c.DisplayOrder,
		&status, &c.CloudVersion, &c.LocalVersion, &lastSynced, &c.SyncError)
	if err != nil {
		return nil, err
	}

	c.StartedAt = parseTime(startedAt)
	c.ClosedAt = parseTime(closedAt)
	c.CloseReason = models.CloseReason(closeReason)
	c.FilesRead = unmarshalPaths(filesRead)
	c.FilesChanged = unmarshalPaths(filesChanged)
	c.SyncStatus = models.SyncStatus(status)
	if lastSynced.Valid {
		t := parseTime(lastSynced.String)
		c.LastSyncedAt = &t
	}
	return c, nil
}

func (r *SQLiteRepository) loadChildren(ctx context.Context, c *models.Commit) error {
	srows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at FROM sessions WHERE commit_id = ? ORDER BY seq`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to select sessions: %w", err)
	}
	defer srows.Close()

	for srows.Next() {
		var s models.Session
		var startedAt, endedAt string
		if err := srows.Scan(&s.ID, &startedAt, &endedAt); err != nil {
			return err
		}
		s.StartedAt = parseTime(startedAt)
		s.EndedAt = parseTime(endedAt)
		c.Sessions = append(c.Sessions, s)
	}
	if err := srows.Err(); err != nil {
		return err
	}

	for si := range c.Sessions {
		s := &c.Sessions[si]
		trows, err := r.db.QueryContext(ctx, `
			SELECT id, role, content, timestamp, model, tool_calls, triggers_visual_update
			FROM turns WHERE session_id = ? ORDER BY seq`, s.ID)
		if err != nil {
			return fmt.Errorf("failed to select turns: %w", err)
		}

		for trows.Next() {
			var t models.Turn
			var role, timestamp string
			var content, toolCalls sql.NullString
			if err := trows.Scan(&t.ID, &role, &content, &timestamp, &t.Model, &toolCalls, &t.TriggersVisualUpdate); err != nil {
				trows.Close()
				return err
			}
			t.Role = models.Role(role)
			t.Timestamp = parseTime(timestamp)
			if content.Valid {
				v := content.String
				t.Content = &v
			}
			if toolCalls.Valid && toolCalls.String != "" {
				// Malformed tool-call JSON is isolated: the turn survives with
				// the field absent.
				var calls []models.ToolCall
				if err := json.Unmarshal([]byte(toolCalls.String), &calls); err == nil {
					t.ToolCalls = calls
				}
			}
			s.Turns = append(s.Turns, t)
		}
		if err := trows.Err(); err != nil {
			trows.Close()
			return err
		}
		trows.Close()
	}
	return nil
}

func (r *SQLiteRepository) getWhere(ctx context.Context, where string, arg any) (*models.Commit, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE `+where, arg)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select commit: %w", err)
	}
	if err := r.loadChildren(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Commit, error) {
	return r.getWhere(ctx, `id = ?`, id)
}

func (r *SQLiteRepository) GetByCloudID(ctx context.Context, cloudID string) (*models.Commit, error) {
	return r.getWhere(ctx, `cloud_id = ?`, cloudID)
}

func (r *SQLiteRepository) listWhere(ctx context.Context, where string, args ...any) ([]*models.Commit, error) {
	q := `SELECT ` + commitColumns + ` FROM commits`
	if where != "" {
		q += ` WHERE ` + where
	}
	q += ` ORDER BY closed_at`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select commits: %w", err)
	}
	defer rows.Close()

	var result []*models.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range result {
		if err := r.loadChildren(ctx, c); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *SQLiteRepository) GetBySyncStatus(ctx context.Context, status models.SyncStatus) ([]*models.Commit, error) {
	return r.listWhere(ctx, `sync_status = ?`, string(status))
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]*models.Commit, error) {
	return r.listWhere(ctx, "")
}

func (r *SQLiteRepository) UpdateSyncMetadata(ctx context.Context, id string, meta SyncMetadata) error {
	var lastSynced any
	if meta.LastSyncedAt != nil {
		lastSynced = fmtTime(*meta.LastSyncedAt)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE commits SET cloud_id = ?, sync_status = ?, cloud_version = ?, last_synced_at = ?, sync_error = ?
		WHERE id = ?
	`, meta.CloudID, string(meta.Status), meta.CloudVersion, lastSynced, meta.Error, id)
	if err != nil {
		return fmt.Errorf("failed to update sync metadata: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) IncrementLocalVersion(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE commits SET local_version = MAX(local_version, cloud_version) + 1, sync_status = ?
		WHERE id = ?
	`, string(models.StatusPending), id)
	if err != nil {
		return fmt.Errorf("failed to increment local version: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) ResetAllSyncStatus(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE commits SET sync_status = ?, cloud_id = '', cloud_version = 0, last_synced_at = NULL, sync_error = ''
	`, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to reset sync status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ReplaceFromRemote(ctx context.Context, id string, c *models.Commit) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var lastSynced any
		if c.LastSyncedAt != nil {
			lastSynced = fmtTime(*c.LastSyncedAt)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE commits SET cloud_id = ?, started_at = ?, closed_at = ?, close_reason = ?,
				files_read = ?, files_changed = ?, project = ?, agent = ?, title = ?,
				published = ?, hidden = ?, display_order = ?,
				sync_status = ?, cloud_version = ?, local_version = ?, last_synced_at = ?, sync_error = ''
			WHERE id = ?
		`,
			c.CloudID, fmtTime(c.StartedAt), fmtTime(c.ClosedAt), string(c.CloseReason),
			marshalPaths(c.FilesRead), marshalPaths(c.FilesChanged), c.Project, c.Agent, c.Title,
			c.Published, c.Hidden, c.DisplayOrder,
			string(c.SyncStatus), c.CloudVersion, c.LocalVersion, lastSynced, id)
		if err != nil {
			return fmt.Errorf("failed to overwrite commit: %w", err)
		}
		if err := requireOneRow(res); err != nil {
			return err
		}

		// The remote aggregate is authoritative: drop stale children before
		// re-inserting the remote's set.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM turns WHERE session_id IN (SELECT id FROM sessions WHERE commit_id = ?)
		`, id); err != nil {
			return fmt.Errorf("failed to clear turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE commit_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear sessions: %w", err)
		}

		replacement := *c
		replacement.ID = id
		return insertChildren(ctx, tx, &replacement)
	})
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM turns WHERE session_id IN (SELECT id FROM sessions WHERE commit_id = ?)
		`, id); err != nil {
			return fmt.Errorf("failed to delete turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE commit_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM visuals WHERE commit_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete visuals: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM commits WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete commit: %w", err)
		}
		return requireOneRow(res)
	})
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM commits GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count commits: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		result[models.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}
