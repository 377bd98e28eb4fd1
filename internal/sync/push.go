package sync

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"time"

	"codetrail/internal/common"
	"codetrail/internal/logging"
	"codetrail/internal/models"
	"codetrail/internal/objstore"
	"codetrail/internal/remote"
	"codetrail/internal/repositories/commits"
	"codetrail/internal/repositories/visuals"
)

// PushOptions controls one push run.
type PushOptions struct {
	// Verbose enables per-commit progress logging.
	Verbose bool
	// Force resets every commit to pending and clears its cloud linkage
	// before selecting, producing a full re-push.
	Force bool
	// DryRun reports what would be pushed without network or state changes.
	DryRun bool
	// Retry selects commits in error status instead of pending ones.
	Retry bool
}

// PushEngine uploads local commits to the record service. It is constructed
// per run with a client already bound to a valid access token.
type PushEngine struct {
	commits commits.Repository
	visuals visuals.Repository
	client  remote.Client
	objects objstore.Store
	logger  logging.Logger

	userID        string
	turnBatchSize int
	excluded      map[string]struct{}
	retry         retryPolicy
	now           func() time.Time
}

type PushEngineParams struct {
	Commits commits.Repository
	Visuals visuals.Repository
	Client  remote.Client
	Objects objstore.Store
	Logger  logging.Logger

	UserID           string
	TurnBatchSize    int
	ExcludedProjects []string
	Retry            retryPolicy
}

func NewPushEngine(p PushEngineParams) *PushEngine {
	if p.TurnBatchSize <= 0 {
		p.TurnBatchSize = 200
	}
	excluded := make(map[string]struct{}, len(p.ExcludedProjects))
	for _, name := range p.ExcludedProjects {
		excluded[name] = struct{}{}
	}
	return &PushEngine{
		commits:       p.Commits,
		visuals:       p.Visuals,
		client:        p.Client,
		objects:       p.Objects,
		logger:        p.Logger,
		userID:        p.UserID,
		turnBatchSize: p.TurnBatchSize,
		excluded:      excluded,
		retry:         p.Retry,
		now:           time.Now,
	}
}

// Run selects, filters and uploads commits. Per-commit failures are recorded
// and never abort the batch; only selection and usage-fetch failures surface
// as a top-level error.
func (e *PushEngine) Run(ctx context.Context, opts PushOptions) (*Result, error) {
	res := &Result{}

	if opts.Force && !opts.DryRun {
		if err := e.commits.ResetAllSyncStatus(ctx); err != nil {
			return nil, fmt.Errorf("failed to reset sync status: %w", err)
		}
	}

	status := models.StatusPending
	if opts.Retry {
		status = models.StatusError
	}
	candidates, err := e.commits.GetBySyncStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to select commits: %w", err)
	}

	pushable, err := e.filter(ctx, candidates, opts, res)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		sessions, turns := 0, 0
		for _, c := range pushable {
			sessions += len(c.Sessions)
			turns += c.TotalTurns()
		}
		e.logger.Info(ctx, "dry run",
			"commits", len(pushable), "sessions", sessions, "turns", turns,
			"filtered", res.Filtered)
		res.Pushed = len(pushable)
		return res, nil
	}

	if len(pushable) == 0 {
		return res, nil
	}

	pushable, err = e.applyQuota(ctx, pushable, res)
	if err != nil {
		return nil, err
	}

	for _, c := range pushable {
		if opts.Verbose {
			e.logger.Info(ctx, "pushing commit", "id", c.ID, "title", c.Title)
		}
		err := e.pushOne(ctx, c)
		var conflict *remote.ConflictError
		switch {
		case err == nil:
			res.Pushed++
		case errors.As(err, &conflict):
			res.Conflicts++
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.ID, err))
		}
	}
	return res, nil
}

// filter drops commits that must never be uploaded. Warm-up and zero-turn
// commits are flipped to synced so they stop showing up as pending; excluded
// projects are marked filtered.
func (e *PushEngine) filter(ctx context.Context, candidates []*models.Commit, opts PushOptions, res *Result) ([]*models.Commit, error) {
	var pushable []*models.Commit
	for _, c := range candidates {
		if _, skip := e.excluded[c.Project]; skip {
			res.Filtered++
			if !opts.DryRun {
				if err := e.markStatus(ctx, c, models.StatusFiltered); err != nil {
					return nil, err
				}
			}
			continue
		}
		if c.TotalTurns() == 0 || c.IsWarmup() {
			res.Filtered++
			if !opts.DryRun {
				if err := e.markStatus(ctx, c, models.StatusSynced); err != nil {
					return nil, err
				}
			}
			continue
		}
		pushable = append(pushable, c)
	}
	return pushable, nil
}

// applyQuota sorts candidates newest first and truncates to the remaining
// quota slots on constrained tiers.
func (e *PushEngine) applyQuota(ctx context.Context, pushable []*models.Commit, res *Result) ([]*models.Commit, error) {
	var usage *models.Usage
	err := e.retry.do(ctx, func(ctx context.Context) error {
		var err error
		usage, err = e.client.GetUsage(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage: %w", err)
	}

	sort.Slice(pushable, func(i, j int) bool {
		return pushable[i].ClosedAt.After(pushable[j].ClosedAt)
	})

	slots := usage.RemainingSlots()
	if slots < 0 {
		return pushable, nil
	}
	if slots == 0 {
		res.QuotaExhausted = true
		res.Deferred += len(pushable)
		e.logger.Warn(ctx, "commit quota exhausted",
			"used", usage.CommitCount, "limit", usage.CommitLimit)
		return nil, nil
	}
	if len(pushable) > slots {
		res.Deferred += len(pushable) - slots
		pushable = pushable[:slots]
	}
	return pushable, nil
}

// pushOne uploads a single aggregate and records the outcome in the commit's
// sync columns, including partial linkage when the upload dies halfway.
func (e *PushEngine) pushOne(ctx context.Context, c *models.Commit) error {
	cloudID, version := c.CloudID, c.CloudVersion
	pushErr := e.upload(ctx, c, &cloudID, &version)

	if pushErr != nil {
		meta := commits.SyncMetadata{
			CloudID:      cloudID,
			Status:       models.StatusError,
			CloudVersion: version,
			LastSyncedAt: c.LastSyncedAt,
			Error:        pushErr.Error(),
		}
		var conflict *remote.ConflictError
		if errors.As(pushErr, &conflict) {
			meta.Status = models.StatusConflict
			meta.Error = ""
		}
		if err := e.commits.UpdateSyncMetadata(ctx, c.ID, meta); err != nil {
			e.logger.Error(ctx, "failed to record push outcome", "id", c.ID, "error", err)
		}
		return pushErr
	}

	now := e.now().UTC()
	if err := e.commits.UpdateSyncMetadata(ctx, c.ID, commits.SyncMetadata{
		CloudID:      cloudID,
		Status:       models.StatusSynced,
		CloudVersion: version,
		LastSyncedAt: &now,
	}); err != nil {
		return fmt.Errorf("failed to update sync metadata: %w", err)
	}

	e.uploadVisuals(ctx, c.ID, cloudID)
	return nil
}

func (e *PushEngine) upload(ctx context.Context, c *models.Commit, cloudID *string, version *int64) error {
	if *cloudID != "" {
		var vi *remote.VersionInfo
		err := e.retry.do(ctx, func(ctx context.Context) error {
			var err error
			vi, err = e.client.GetCommitVersion(ctx, *cloudID)
			return err
		})
		switch {
		case errors.Is(err, common.ErrNotFound):
			// remote record is gone; push as new below
		case err != nil:
			return fmt.Errorf("failed to check remote version: %w", err)
		case vi.Version > c.CloudVersion:
			return &remote.ConflictError{ServerVersion: vi.Version}
		}
	}

	row := remote.ToCommitRow(c, e.userID)
	if row.ID == "" {
		row.ID = NormalizeID(c.ID)
	}
	row.Version = c.CloudVersion + 1

	var rows []remote.CommitRow
	err := e.retry.do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = e.client.UpsertCommits(ctx, []remote.CommitRow{row})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert commit: %w", err)
	}
	*cloudID, *version = row.ID, row.Version
	if len(rows) > 0 {
		*cloudID, *version = rows[0].ID, rows[0].Version
	}

	sessionRows := make([]remote.SessionRow, 0, len(c.Sessions))
	for i := range c.Sessions {
		s := &c.Sessions[i]
		sessionRows = append(sessionRows, remote.ToSessionRow(s, NormalizeID(s.ID), *cloudID))
	}
	if len(sessionRows) > 0 {
		err := e.retry.do(ctx, func(ctx context.Context) error {
			_, err := e.client.UpsertSessions(ctx, sessionRows)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to upsert sessions: %w", err)
		}
	}

	for i := range c.Sessions {
		s := &c.Sessions[i]
		if err := e.uploadTurns(ctx, s, NormalizeID(s.ID)); err != nil {
			return err
		}
	}
	return nil
}

// uploadTurns sends a session's turns in fixed-size batches so one request
// never carries an unbounded payload and a partial failure can resume.
func (e *PushEngine) uploadTurns(ctx context.Context, s *models.Session, sessionID string) error {
	for start := 0; start < len(s.Turns); start += e.turnBatchSize {
		end := start + e.turnBatchSize
		if end > len(s.Turns) {
			end = len(s.Turns)
		}
		batch := make([]remote.TurnRow, 0, end-start)
		for i := start; i < end; i++ {
			t := &s.Turns[i]
			batch = append(batch, remote.ToTurnRow(t, NormalizeID(t.ID), sessionID, i))
		}
		err := e.retry.do(ctx, func(ctx context.Context) error {
			_, err := e.client.UpsertTurns(ctx, batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to upsert turns %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

// uploadVisuals pushes a commit's pending attachments to object storage.
// Failures leave the visual pending and never un-sync the commit: the
// aggregate itself is already safely on the service.
func (e *PushEngine) uploadVisuals(ctx context.Context, commitID, cloudID string) {
	if e.objects == nil || e.visuals == nil {
		return
	}
	pending, err := e.visuals.GetPendingUpload(ctx, commitID)
	if err != nil {
		e.logger.Warn(ctx, "failed to list pending visuals", "commit", commitID, "error", err)
		return
	}
	for _, v := range pending {
		f, err := os.Open(v.Path)
		if err != nil {
			e.logger.Warn(ctx, "failed to open visual", "path", v.Path, "error", err)
			continue
		}
		key := objstore.ObjectKey(e.userID, cloudID, v.ID)
		url, err := e.objects.Upload(ctx, key, f, contentTypeOf(v.Path))
		_ = f.Close()
		if err != nil {
			e.logger.Warn(ctx, "failed to upload visual", "id", v.ID, "error", err)
			continue
		}
		if err := e.visuals.SetCloudLink(ctx, v.ID, url, key); err != nil {
			e.logger.Warn(ctx, "failed to record visual upload", "id", v.ID, "error", err)
		}
	}
}

func (e *PushEngine) markStatus(ctx context.Context, c *models.Commit, status models.SyncStatus) error {
	err := e.commits.UpdateSyncMetadata(ctx, c.ID, commits.SyncMetadata{
		CloudID:      c.CloudID,
		Status:       status,
		CloudVersion: c.CloudVersion,
		LastSyncedAt: c.LastSyncedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to mark commit %s %s: %w", c.ID, status, err)
	}
	return nil
}

func contentTypeOf(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
