package sync

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"codetrail/internal/common"
	"codetrail/internal/localdb"
	"codetrail/internal/logging"
	"codetrail/internal/models"
	"codetrail/internal/remote"
	"codetrail/internal/repositories/commits"
	"codetrail/internal/repositories/metadata"
	"codetrail/internal/repositories/visuals"
)

type testStore struct {
	db      *sql.DB
	commits commits.Repository
	visuals visuals.Repository
	meta    metadata.Repository
}

func setupStore(t *testing.T) *testStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, localdb.RunMigrations(context.Background(), db))

	return &testStore{
		db:      db,
		commits: commits.NewSQLiteRepository(db),
		visuals: visuals.NewSQLiteRepository(db),
		meta:    metadata.NewSQLiteRepository(db),
	}
}

func strptr(s string) *string { return &s }

// localCommit builds a pending single-session commit closed at the given time.
func localCommit(id string, closedAt time.Time, turns ...models.Turn) *models.Commit {
	if len(turns) == 0 {
		turns = []models.Turn{
			{ID: id + "-t1", Role: models.RoleUser, Content: strptr("refactor the loader"), Timestamp: closedAt.Add(-time.Hour)},
		}
	}
	return &models.Commit{
		ID:           id,
		StartedAt:    closedAt.Add(-time.Hour),
		ClosedAt:     closedAt,
		CloseReason:  models.CloseReasonGitCommit,
		Project:      "demo",
		Title:        "work on " + id,
		SyncStatus:   models.StatusPending,
		LocalVersion: 1,
		Sessions: []models.Session{
			{ID: id + "-s1", StartedAt: closedAt.Add(-time.Hour), EndedAt: closedAt, Turns: turns},
		},
	}
}

// remoteRow builds a minimal remote commit row for seeding.
func remoteRow(id string, version int64, updatedAt time.Time) remote.CommitRow {
	return remote.CommitRow{
		ID:          id,
		UserID:      "u1",
		StartedAt:   updatedAt.Add(-2 * time.Hour),
		ClosedAt:    updatedAt.Add(-time.Hour),
		CloseReason: string(models.CloseReasonSessionEnd),
		Project:     "demo",
		Title:       "remote " + id,
		Version:     version,
		UpdatedAt:   updatedAt,
	}
}

// fakeRemote is an in-memory record service with server-assigned versions
// and update timestamps.
type fakeRemote struct {
	commits map[string]*storedCommit
	order   []string

	usage     *models.Usage
	usageErr  error
	deletions []remote.Deletion

	// failCommitUpsertOnce fails the next upsert of the given remote id,
	// then clears itself, so retry passes can observe recovery.
	failCommitUpsertOnce map[string]error
	failSessionUpsert    error
	failGetCommit        map[string]error

	turnBatches        []int
	versionChecks      int
	commitUpsertCalls  int
	sessionUpsertCalls int

	clock time.Time
}

type storedCommit struct {
	row      remote.CommitRow
	sessions []*storedSession
}

type storedSession struct {
	row   remote.SessionRow
	turns []remote.TurnRow
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		commits: map[string]*storedCommit{},
		usage:   &models.Usage{Tier: "pro"},
		clock:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRemote) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// seed installs a remote commit directly, bypassing the client surface.
func (f *fakeRemote) seed(row remote.CommitRow, sessions ...remote.SessionDetail) {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = f.tick()
	}
	sc := &storedCommit{row: row}
	for _, sd := range sessions {
		sc.sessions = append(sc.sessions, &storedSession{row: sd.Session, turns: sd.Turns})
	}
	if _, ok := f.commits[row.ID]; !ok {
		f.order = append(f.order, row.ID)
	}
	f.commits[row.ID] = sc
}

func (f *fakeRemote) WithToken(string) remote.Client { return f }
func (f *fakeRemote) Ping(context.Context) error     { return nil }

func (f *fakeRemote) RefreshToken(context.Context, string) (*remote.TokenResponse, error) {
	return nil, common.ErrNotAuthenticated
}

func (f *fakeRemote) GetUsage(context.Context) (*models.Usage, error) {
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	u := *f.usage
	return &u, nil
}

func (f *fakeRemote) UpsertCommits(_ context.Context, rows []remote.CommitRow) ([]remote.CommitRow, error) {
	f.commitUpsertCalls++
	out := make([]remote.CommitRow, 0, len(rows))
	for _, row := range rows {
		if err, ok := f.failCommitUpsertOnce[row.ID]; ok {
			delete(f.failCommitUpsertOnce, row.ID)
			return nil, err
		}
		row.UpdatedAt = f.tick()
		sc, ok := f.commits[row.ID]
		if !ok {
			sc = &storedCommit{}
			f.commits[row.ID] = sc
			f.order = append(f.order, row.ID)
		}
		sc.row = row
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeRemote) UpsertSessions(_ context.Context, rows []remote.SessionRow) ([]remote.SessionRow, error) {
	f.sessionUpsertCalls++
	if f.failSessionUpsert != nil {
		return nil, f.failSessionUpsert
	}
	for _, row := range rows {
		sc := f.commits[row.CommitID]
		if sc == nil {
			return nil, common.ErrNotFound
		}
		replaced := false
		for _, s := range sc.sessions {
			if s.row.ID == row.ID {
				s.row = row
				replaced = true
				break
			}
		}
		if !replaced {
			sc.sessions = append(sc.sessions, &storedSession{row: row})
		}
	}
	return rows, nil
}

func (f *fakeRemote) UpsertTurns(_ context.Context, rows []remote.TurnRow) ([]remote.TurnRow, error) {
	f.turnBatches = append(f.turnBatches, len(rows))
	for _, row := range rows {
		s := f.findSession(row.SessionID)
		if s == nil {
			return nil, common.ErrNotFound
		}
		replaced := false
		for i := range s.turns {
			if s.turns[i].ID == row.ID {
				s.turns[i] = row
				replaced = true
				break
			}
		}
		if !replaced {
			s.turns = append(s.turns, row)
		}
	}
	return rows, nil
}

func (f *fakeRemote) findSession(id string) *storedSession {
	for _, sc := range f.commits {
		for _, s := range sc.sessions {
			if s.row.ID == id {
				return s
			}
		}
	}
	return nil
}

func (f *fakeRemote) GetCommitVersion(_ context.Context, id string) (*remote.VersionInfo, error) {
	f.versionChecks++
	sc := f.commits[id]
	if sc == nil {
		return nil, common.ErrNotFound
	}
	return &remote.VersionInfo{Version: sc.row.Version, UpdatedAt: sc.row.UpdatedAt}, nil
}

func (f *fakeRemote) GetCommit(_ context.Context, id string) (*remote.CommitDetail, error) {
	if err := f.failGetCommit[id]; err != nil {
		return nil, err
	}
	sc := f.commits[id]
	if sc == nil {
		return nil, common.ErrNotFound
	}
	detail := &remote.CommitDetail{Commit: sc.row}
	for _, s := range sc.sessions {
		turns := append([]remote.TurnRow(nil), s.turns...)
		sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
		detail.Sessions = append(detail.Sessions, remote.SessionDetail{Session: s.row, Turns: turns})
	}
	return detail, nil
}

func (f *fakeRemote) ListCommitsSince(_ context.Context, since time.Time) ([]remote.CommitRow, error) {
	var rows []remote.CommitRow
	for _, id := range f.order {
		sc := f.commits[id]
		if sc.row.DeletedAt != nil {
			continue
		}
		if sc.row.UpdatedAt.After(since) {
			rows = append(rows, sc.row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.Before(rows[j].UpdatedAt) })
	return rows, nil
}

func (f *fakeRemote) ListDeletedSince(_ context.Context, since time.Time) ([]remote.Deletion, error) {
	var out []remote.Deletion
	for _, d := range f.deletions {
		if d.DeletedAt.After(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRemote) DeleteAll(context.Context) error {
	f.commits = map[string]*storedCommit{}
	f.order = nil
	return nil
}

func testPushEngine(store *testStore, f *fakeRemote) *PushEngine {
	return NewPushEngine(PushEngineParams{
		Commits:       store.commits,
		Visuals:       store.visuals,
		Client:        f,
		Logger:        logging.NewNopLogger(),
		UserID:        "u1",
		TurnBatchSize: 200,
		Retry:         newRetryPolicy(1, time.Millisecond),
	})
}

func testPullEngine(store *testStore, f *fakeRemote) *PullEngine {
	return NewPullEngine(PullEngineParams{
		Commits: store.commits,
		Meta:    store.meta,
		Client:  f,
		Logger:  logging.NewNopLogger(),
		Retry:   newRetryPolicy(1, time.Millisecond),
	})
}

func testResolver(store *testStore, f *fakeRemote) *Resolver {
	return NewResolver(ResolverParams{
		Commits: store.commits,
		Client:  f,
		Logger:  logging.NewNopLogger(),
		Retry:   newRetryPolicy(1, time.Millisecond),
	})
}
