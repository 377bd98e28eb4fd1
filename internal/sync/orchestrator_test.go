package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetrail/internal/auth"
	"codetrail/internal/common"
	"codetrail/internal/logging"
	"codetrail/internal/models"
)

func testOrchestrator(t *testing.T, store *testStore, f *fakeRemote) *Orchestrator {
	t.Helper()
	authStore := auth.NewStore(store.meta)
	mgr := auth.NewManager(authStore, f, logging.NewNopLogger())
	return NewOrchestrator(OrchestratorParams{
		Commits:          store.commits,
		Visuals:          store.visuals,
		Meta:             store.meta,
		Client:           f,
		Auth:             mgr,
		Logger:           logging.NewNopLogger(),
		TurnBatchSize:    200,
		RetryMaxAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
	})
}

func login(t *testing.T, store *testStore) {
	t.Helper()
	err := auth.NewStore(store.meta).Save(context.Background(), &auth.Tokens{
		AccessToken: "tok", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(time.Hour), UserID: "u1",
	})
	require.NoError(t, err)
}

func TestSync_RequiresAuthentication(t *testing.T) {
	store := setupStore(t)
	o := testOrchestrator(t, store, newFakeRemote())

	_, err := o.Sync(context.Background())
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestSync_PullThenPush(t *testing.T) {
	store := setupStore(t)
	f := newFakeRemote()
	ctx := context.Background()
	login(t, store)

	// one commit waiting locally, one waiting remotely
	require.NoError(t, store.commits.Create(ctx, localCommit("c1", baseTime)))
	seededDetail(f, "cloud-9", 1, baseTime.Add(time.Hour))

	o := testOrchestrator(t, store, f)
	res, err := o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 1, res.Pushed)
	assert.Empty(t, res.Errors)

	st, err := o.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Synced)
	assert.Zero(t, st.Pending)
	assert.NotNil(t, st.LastSyncAt)
	assert.True(t, st.IsOnline)
	assert.False(t, st.IsSyncing)
}

func TestSync_AutoResolvesBeforePulling(t *testing.T) {
	store := setupStore(t)
	f := newFakeRemote()
	ctx := context.Background()
	login(t, store)

	c := localCommit("c1", baseTime)
	c.CloudID = "cloud-1"
	c.CloudVersion = 1
	c.LocalVersion = 2
	c.SyncStatus = models.StatusConflict
	require.NoError(t, store.commits.Create(ctx, c))
	seededDetail(f, "cloud-1", 2, baseTime.Add(time.Hour))

	res, err := testOrchestrator(t, store, f).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Zero(t, res.Conflicts)

	got, err := store.commits.GetByID(ctx, "c1")
	require.NoError(t, err)
	// remote was newer, so the cloud side won
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, "remote cloud-1", got.Title)
}

func TestSync_RetriesFailedPushOnce(t *testing.T) {
	store := setupStore(t)
	f := newFakeRemote()
	ctx := context.Background()
	login(t, store)

	require.NoError(t, store.commits.Create(ctx, localCommit("c1", baseTime)))
	f.failCommitUpsertOnce = map[string]error{NormalizeID("c1"): errors.New("transient")}

	res, err := testOrchestrator(t, store, f).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed, "the retry pass should have succeeded")
	assert.Empty(t, res.Errors)
}

func TestSync_SecondConcurrentRunRejected(t *testing.T) {
	store := setupStore(t)
	o := testOrchestrator(t, store, newFakeRemote())

	o.syncing.Store(true)
	_, err := o.Sync(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestWipe(t *testing.T) {
	store := setupStore(t)
	f := newFakeRemote()
	ctx := context.Background()
	login(t, store)

	c := localCommit("c1", baseTime)
	c.CloudID = "cloud-1"
	c.CloudVersion = 2
	c.SyncStatus = models.StatusSynced
	require.NoError(t, store.commits.Create(ctx, c))
	f.seed(remoteRow("cloud-1", 2, baseTime))

	require.NoError(t, testOrchestrator(t, store, f).Wipe(ctx))

	assert.Empty(t, f.commits)
	got, err := store.commits.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	assert.Empty(t, got.CloudID)
	assert.Zero(t, got.CloudVersion)
}
