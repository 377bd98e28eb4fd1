package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"codetrail/internal/auth"
	"codetrail/internal/logging"
	"codetrail/internal/models"
	"codetrail/internal/objstore"
	"codetrail/internal/remote"
	"codetrail/internal/repositories/commits"
	"codetrail/internal/repositories/metadata"
	"codetrail/internal/repositories/visuals"
)

// ErrAlreadyRunning is returned when a sync is requested while another one
// holds the store.
var ErrAlreadyRunning = errors.New("sync already running")

// lastSyncKey holds the wall-clock time of the last completed full sync.
const lastSyncKey = "sync.last_sync_at"

// Orchestrator is the façade over the engines. One full Sync runs
// auto-resolve, pull and push in that fixed order; pull-before-push absorbs
// remote changes before asserting local ones and keeps spurious conflicts
// down.
type Orchestrator struct {
	commits commits.Repository
	visuals visuals.Repository
	meta    metadata.Repository
	client  remote.Client
	auth    *auth.Manager
	objects objstore.Store
	logger  logging.Logger

	turnBatchSize    int
	excludedProjects []string
	retry            retryPolicy
	now              func() time.Time

	syncing atomic.Bool
}

type OrchestratorParams struct {
	Commits commits.Repository
	Visuals visuals.Repository
	Meta    metadata.Repository
	Client  remote.Client
	Auth    *auth.Manager
	Objects objstore.Store
	Logger  logging.Logger

	TurnBatchSize    int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	ExcludedProjects []string
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		commits:          p.Commits,
		visuals:          p.Visuals,
		meta:             p.Meta,
		client:           p.Client,
		auth:             p.Auth,
		objects:          p.Objects,
		logger:           p.Logger,
		turnBatchSize:    p.TurnBatchSize,
		excludedProjects: p.ExcludedProjects,
		retry:            newRetryPolicy(p.RetryMaxAttempts, p.RetryBaseDelay),
		now:              time.Now,
	}
}

// bind returns a client carrying a valid access token plus the caller's
// identity. Authentication failures abort the whole operation up front.
func (o *Orchestrator) bind(ctx context.Context) (remote.Client, string, error) {
	tokens, err := o.auth.EnsureValid(ctx)
	if err != nil {
		return nil, "", err
	}
	return o.client.WithToken(tokens.AccessToken), tokens.UserID, nil
}

func (o *Orchestrator) pushEngine(client remote.Client, userID string) *PushEngine {
	return NewPushEngine(PushEngineParams{
		Commits:          o.commits,
		Visuals:          o.visuals,
		Client:           client,
		Objects:          o.objects,
		Logger:           o.logger,
		UserID:           userID,
		TurnBatchSize:    o.turnBatchSize,
		ExcludedProjects: o.excludedProjects,
		Retry:            o.retry,
	})
}

func (o *Orchestrator) pullEngine(client remote.Client) *PullEngine {
	return NewPullEngine(PullEngineParams{
		Commits: o.commits,
		Meta:    o.meta,
		Client:  client,
		Logger:  o.logger,
		Retry:   o.retry,
	})
}

func (o *Orchestrator) resolver(client remote.Client) *Resolver {
	return NewResolver(ResolverParams{
		Commits: o.commits,
		Client:  client,
		Logger:  o.logger,
		Retry:   o.retry,
	})
}

// Sync runs one full reconciliation. Phase failures are folded into the
// result; only authentication failures (and a concurrent run) surface as a
// top-level error.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.syncing.Store(false)

	client, userID, err := o.bind(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	counts, err := o.commits.CountByStatus(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to count conflicts: %v", err))
	} else if counts[models.StatusConflict] > 0 {
		rres, err := o.resolver(client).AutoResolve(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("auto-resolve: %v", err))
		} else {
			res.merge(rres)
		}
	}

	pres, err := o.pullEngine(client).Run(ctx, PullOptions{})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("pull: %v", err))
	} else {
		res.merge(pres)
	}

	o.pushWithRetryPass(ctx, client, userID, res)

	if err := o.meta.Set(ctx, lastSyncKey, []byte(o.now().UTC().Format(time.RFC3339Nano))); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to record sync time: %v", err))
	}
	return res, nil
}

// pushWithRetryPass runs the push phase, then gives commits that just failed
// one more chance before their errors reach the user.
func (o *Orchestrator) pushWithRetryPass(ctx context.Context, client remote.Client, userID string, res *Result) {
	engine := o.pushEngine(client, userID)

	pres, err := engine.Run(ctx, PushOptions{})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("push: %v", err))
		return
	}

	if len(pres.Errors) > 0 {
		rres, err := engine.Run(ctx, PushOptions{Retry: true})
		if err == nil {
			pres.Errors = rres.Errors
			pres.Pushed += rres.Pushed
			pres.Conflicts += rres.Conflicts
		}
	}
	res.merge(pres)
}

// Push runs the push phase alone.
func (o *Orchestrator) Push(ctx context.Context, opts PushOptions) (*Result, error) {
	client, userID, err := o.bind(ctx)
	if err != nil {
		return nil, err
	}
	return o.pushEngine(client, userID).Run(ctx, opts)
}

// Pull runs the pull phase alone.
func (o *Orchestrator) Pull(ctx context.Context, opts PullOptions) (*Result, error) {
	client, _, err := o.bind(ctx)
	if err != nil {
		return nil, err
	}
	return o.pullEngine(client).Run(ctx, opts)
}

// ResolveKeepLocal settles one conflict in favor of the local edits.
func (o *Orchestrator) ResolveKeepLocal(ctx context.Context, id string) error {
	client, _, err := o.bind(ctx)
	if err != nil {
		return err
	}
	return o.resolver(client).ResolveKeepLocal(ctx, id)
}

// ResolveKeepCloud settles one conflict in favor of the remote record.
func (o *Orchestrator) ResolveKeepCloud(ctx context.Context, id string) error {
	client, _, err := o.bind(ctx)
	if err != nil {
		return err
	}
	return o.resolver(client).ResolveKeepCloud(ctx, id)
}

// AutoResolve applies last-write-wins to every conflicted commit.
func (o *Orchestrator) AutoResolve(ctx context.Context) (*Result, error) {
	client, _, err := o.bind(ctx)
	if err != nil {
		return nil, err
	}
	return o.resolver(client).AutoResolve(ctx)
}

// Wipe deletes every remote record owned by the caller, removes uploaded
// visual objects, and flips all local commits back to pending so a later
// push can restore the account from the local copy.
func (o *Orchestrator) Wipe(ctx context.Context) error {
	client, _, err := o.bind(ctx)
	if err != nil {
		return err
	}

	err = o.retry.do(ctx, func(ctx context.Context) error {
		return client.DeleteAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to wipe remote records: %w", err)
	}

	if o.objects != nil && o.visuals != nil {
		uploaded, err := o.visuals.GetAllWithStorageKey(ctx)
		if err != nil {
			return fmt.Errorf("failed to list uploaded visuals: %w", err)
		}
		for _, v := range uploaded {
			if err := o.objects.Delete(ctx, v.StorageKey); err != nil {
				o.logger.Warn(ctx, "failed to delete visual object", "key", v.StorageKey, "error", err)
				continue
			}
			if err := o.visuals.SetCloudLink(ctx, v.ID, "", ""); err != nil {
				o.logger.Warn(ctx, "failed to clear visual link", "id", v.ID, "error", err)
			}
		}
	}

	if err := o.commits.ResetAllSyncStatus(ctx); err != nil {
		return fmt.Errorf("failed to reset local sync state: %w", err)
	}
	if err := o.meta.Delete(ctx, watermarkKey); err != nil {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}
	return nil
}

// IsSyncing reports whether a full sync is in flight.
func (o *Orchestrator) IsSyncing() bool {
	return o.syncing.Load()
}

// Status is the point-in-time sync summary shown by the CLI.
type Status struct {
	LastSyncAt *time.Time
	Pending    int
	Synced     int
	Conflict   int
	Error      int
	Filtered   int
	IsOnline   bool
	IsSyncing  bool
}

// Status summarizes the local sync state without performing a sync. The
// online probe uses the unauthenticated health endpoint with a short
// deadline so the command stays snappy offline.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	counts, err := o.commits.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count commits: %w", err)
	}

	st := &Status{
		Pending:   counts[models.StatusPending],
		Synced:    counts[models.StatusSynced],
		Conflict:  counts[models.StatusConflict],
		Error:     counts[models.StatusError],
		Filtered:  counts[models.StatusFiltered],
		IsSyncing: o.syncing.Load(),
	}

	if raw, err := o.meta.Get(ctx, lastSyncKey); err == nil && raw != nil {
		if t, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			st.LastSyncAt = &t
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st.IsOnline = o.client.Ping(pingCtx) == nil

	return st, nil
}
