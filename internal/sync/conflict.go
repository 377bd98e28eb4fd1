package sync

import (
	"context"
	"fmt"
	"time"

	"codetrail/internal/common"
	"codetrail/internal/logging"
	"codetrail/internal/models"
	"codetrail/internal/remote"
	"codetrail/internal/repositories/commits"
)

// clockSkewTolerance bounds how far in the future a remote timestamp may sit
// before auto-resolution flags the comparison as unreliable.
const clockSkewTolerance = 5 * time.Minute

// Resolver settles commits stuck in conflict, either by explicit user choice
// or by the last-write-wins policy the orchestrator applies before a sync.
type Resolver struct {
	commits commits.Repository
	client  remote.Client
	logger  logging.Logger
	retry   retryPolicy
	now     func() time.Time
}

type ResolverParams struct {
	Commits commits.Repository
	Client  remote.Client
	Logger  logging.Logger
	Retry   retryPolicy
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		commits: p.Commits,
		client:  p.Client,
		logger:  p.Logger,
		retry:   p.Retry,
		now:     time.Now,
	}
}

// ResolveKeepLocal keeps the local edits: the stored cloud version is
// advanced to the remote's live one so the next push proposes a version the
// service accepts, and the commit goes back to pending with its local
// version strictly above the adopted cloud version, so a pull that arrives
// before the push still sees the kept edits as unpushed.
func (r *Resolver) ResolveKeepLocal(ctx context.Context, id string) error {
	c, err := r.commits.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.SyncStatus != models.StatusConflict {
		return common.ErrNotInConflict
	}

	if c.CloudID != "" {
		vi, err := r.fetchVersion(ctx, c.CloudID)
		if err != nil {
			return err
		}
		if vi.Version > c.CloudVersion {
			err := r.commits.UpdateSyncMetadata(ctx, id, commits.SyncMetadata{
				CloudID:      c.CloudID,
				Status:       models.StatusConflict,
				CloudVersion: vi.Version,
				LastSyncedAt: c.LastSyncedAt,
			})
			if err != nil {
				return fmt.Errorf("failed to adopt remote version: %w", err)
			}
		}
	}

	return r.commits.IncrementLocalVersion(ctx, id)
}

// ResolveKeepCloud discards the local edits and overwrites the commit with
// the full remote record.
func (r *Resolver) ResolveKeepCloud(ctx context.Context, id string) error {
	c, err := r.commits.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.SyncStatus != models.StatusConflict {
		return common.ErrNotInConflict
	}
	if c.CloudID == "" {
		return fmt.Errorf("commit %s has no cloud counterpart to keep", id)
	}

	var detail *remote.CommitDetail
	err = r.retry.do(ctx, func(ctx context.Context) error {
		var err error
		detail, err = r.client.GetCommit(ctx, c.CloudID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch remote commit: %w", err)
	}

	repl := remote.FromCommitDetail(detail)
	now := r.now().UTC()
	repl.LastSyncedAt = &now
	if err := r.commits.ReplaceFromRemote(ctx, c.ID, repl); err != nil {
		return fmt.Errorf("failed to overwrite local commit: %w", err)
	}
	return nil
}

// AutoResolve applies last-write-wins to every conflicted commit: the remote
// wins when its last write is strictly newer than the local closedAt, ties
// favor local. Per-commit failures accumulate; the loop never aborts.
func (r *Resolver) AutoResolve(ctx context.Context) (*Result, error) {
	res := &Result{}
	conflicted, err := r.commits.GetBySyncStatus(ctx, models.StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflicted commits: %w", err)
	}

	for _, c := range conflicted {
		if err := r.autoResolveOne(ctx, c); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.ID, err))
			continue
		}
		res.Resolved++
	}
	return res, nil
}

func (r *Resolver) autoResolveOne(ctx context.Context, c *models.Commit) error {
	if c.CloudID == "" {
		return r.ResolveKeepLocal(ctx, c.ID)
	}

	vi, err := r.fetchVersion(ctx, c.CloudID)
	if err != nil {
		return err
	}

	if vi.UpdatedAt.After(r.now().Add(clockSkewTolerance)) {
		r.logger.Warn(ctx, "remote timestamp is ahead of local clock, last-write-wins may be unreliable",
			"id", c.ID, "remote_updated_at", vi.UpdatedAt)
	}

	if vi.UpdatedAt.After(c.ClosedAt) {
		return r.ResolveKeepCloud(ctx, c.ID)
	}
	return r.ResolveKeepLocal(ctx, c.ID)
}

func (r *Resolver) fetchVersion(ctx context.Context, cloudID string) (*remote.VersionInfo, error) {
	var vi *remote.VersionInfo
	err := r.retry.do(ctx, func(ctx context.Context) error {
		var err error
		vi, err = r.client.GetCommitVersion(ctx, cloudID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check remote version: %w", err)
	}
	return vi, nil
}
