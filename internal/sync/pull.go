package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"codetrail/internal/common"
	"codetrail/internal/logging"
	"codetrail/internal/models"
	"codetrail/internal/remote"
	"codetrail/internal/repositories/commits"
	"codetrail/internal/repositories/metadata"
)

// watermarkKey holds the pull cursor: the updated_at of the newest remote
// record fully attempted so far, RFC3339Nano.
const watermarkKey = "sync.watermark"

// PullOptions controls one pull run.
type PullOptions struct {
	Verbose bool
}

// PullEngine downloads remote changes since the watermark and merges them
// into the local store.
type PullEngine struct {
	commits commits.Repository
	meta    metadata.Repository
	client  remote.Client
	logger  logging.Logger
	retry   retryPolicy
	now     func() time.Time
}

type PullEngineParams struct {
	Commits commits.Repository
	Meta    metadata.Repository
	Client  remote.Client
	Logger  logging.Logger
	Retry   retryPolicy
}

func NewPullEngine(p PullEngineParams) *PullEngine {
	return &PullEngine{
		commits: p.Commits,
		meta:    p.Meta,
		client:  p.Client,
		logger:  p.Logger,
		retry:   p.Retry,
		now:     time.Now,
	}
}

// Run reconciles remote records updated after the watermark, then propagates
// remote soft-deletes observed since the same point. Individual record
// failures are accumulated; the watermark still advances past them.
func (e *PullEngine) Run(ctx context.Context, opts PullOptions) (*Result, error) {
	res := &Result{}

	since, err := e.loadWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var rows []remote.CommitRow
	err = e.retry.do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = e.client.ListCommitsSince(ctx, since)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote commits: %w", err)
	}

	watermark := since
	for i := range rows {
		row := &rows[i]
		if opts.Verbose {
			e.logger.Info(ctx, "pulling commit", "cloud_id", row.ID, "version", row.Version)
		}
		if err := e.reconcile(ctx, row, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", row.ID, err))
		}
		if row.UpdatedAt.After(watermark) {
			watermark = row.UpdatedAt
		}
	}
	if watermark.After(since) {
		if err := e.saveWatermark(ctx, watermark); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	e.propagateDeletions(ctx, since, res)
	return res, nil
}

// reconcile applies one remote record to the local store following the
// version comparison rules shared with the push side.
func (e *PullEngine) reconcile(ctx context.Context, row *remote.CommitRow, res *Result) error {
	local, err := e.commits.GetByCloudID(ctx, row.ID)
	if errors.Is(err, common.ErrNotFound) {
		return e.materialize(ctx, row.ID, res)
	}
	if err != nil {
		return err
	}

	localEdits := local.SyncStatus == models.StatusPending && local.LocalVersion > local.CloudVersion
	remoteAdvanced := row.Version > local.CloudVersion

	switch {
	case local.SyncStatus == models.StatusConflict:
		// already awaiting resolution; nothing to do until it is settled

	case localEdits && remoteAdvanced:
		// both sides moved past the last common version
		err := e.commits.UpdateSyncMetadata(ctx, local.ID, commits.SyncMetadata{
			CloudID:      local.CloudID,
			Status:       models.StatusConflict,
			CloudVersion: local.CloudVersion,
			LastSyncedAt: local.LastSyncedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to mark conflict: %w", err)
		}
		res.Conflicts++

	case !remoteAdvanced:
		// nothing newer remotely; unpushed local edits stay for the push phase

	default:
		detail, err := e.fetchDetail(ctx, row.ID)
		if err != nil {
			return err
		}
		repl := remote.FromCommitDetail(detail)
		now := e.now().UTC()
		repl.LastSyncedAt = &now
		if err := e.commits.ReplaceFromRemote(ctx, local.ID, repl); err != nil {
			return fmt.Errorf("failed to overwrite local commit: %w", err)
		}
		res.Pulled++
	}
	return nil
}

// materialize creates a local synced copy of a remote commit seen for the
// first time (typically authored on another device).
func (e *PullEngine) materialize(ctx context.Context, cloudID string, res *Result) error {
	detail, err := e.fetchDetail(ctx, cloudID)
	if err != nil {
		return err
	}
	c := remote.FromCommitDetail(detail)
	c.ID = uuid.NewString()
	now := e.now().UTC()
	c.LastSyncedAt = &now
	if err := e.commits.Create(ctx, c); err != nil {
		return fmt.Errorf("failed to create local commit: %w", err)
	}
	res.Pulled++
	return nil
}

func (e *PullEngine) fetchDetail(ctx context.Context, cloudID string) (*remote.CommitDetail, error) {
	var detail *remote.CommitDetail
	err := e.retry.do(ctx, func(ctx context.Context) error {
		var err error
		detail, err = e.client.GetCommit(ctx, cloudID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote commit: %w", err)
	}
	return detail, nil
}

// propagateDeletions hard-deletes local counterparts of remote soft-deletes
// newer than the pre-run watermark.
func (e *PullEngine) propagateDeletions(ctx context.Context, since time.Time, res *Result) {
	var dels []remote.Deletion
	err := e.retry.do(ctx, func(ctx context.Context) error {
		var err error
		dels, err = e.client.ListDeletedSince(ctx, since)
		return err
	})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to list deletions: %v", err))
		return
	}

	for _, d := range dels {
		local, err := e.commits.GetByCloudID(ctx, d.ID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.ID, err))
			continue
		}
		if err := e.commits.DeleteByID(ctx, local.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.ID, err))
			continue
		}
		res.Deleted++
	}
}

func (e *PullEngine) loadWatermark(ctx context.Context) (time.Time, error) {
	raw, err := e.meta.Get(ctx, watermarkKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load watermark: %w", err)
	}
	if raw == nil {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		// unreadable cursor: restart from epoch rather than fail the pull
		e.logger.Warn(ctx, "invalid watermark, resetting", "value", string(raw))
		return time.Time{}, nil
	}
	return t, nil
}

func (e *PullEngine) saveWatermark(ctx context.Context, t time.Time) error {
	if err := e.meta.Set(ctx, watermarkKey, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}
	return nil
}
