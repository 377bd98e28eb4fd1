package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetrail/internal/common"
	"codetrail/internal/logging"
	"codetrail/internal/remote"
)

type memMetadata struct {
	data map[string][]byte
}

func newMemMetadata() *memMetadata { return &memMetadata{data: map[string][]byte{}} }

func (m *memMetadata) Get(_ context.Context, key string) ([]byte, error) { return m.data[key], nil }
func (m *memMetadata) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}
func (m *memMetadata) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}
type fakeClient struct {
	remote.Client
	refreshResp *remote.TokenResponse
	refreshErr  error
	refreshed   int
	pingErr     error
}

func (f *fakeClient) RefreshToken(_ context.Context, _ string) (*remote.TokenResponse, error) {
	f.refreshed++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshResp, nil
}

func (f *fakeClient) WithToken(_ string) remote.Client { return f }
func (f *fakeClient) Ping(_ context.Context) error     { return f.pingErr }

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newManager(client remote.Client) (*Manager, *Store) {
	store := NewStore(newMemMetadata())
	return NewManager(store, client, logging.NewNopLogger()), store
}

func TestFromAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, "user-1", exp)

	tok, err := FromAccessToken(raw, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.UserID)
	assert.Equal(t, exp.Unix(), tok.ExpiresAt.Unix())
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	_, err = FromAccessToken("not-a-jwt", "")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestTokensValid(t *testing.T) {
	now := time.Now()
	assert.True(t, (&Tokens{AccessToken: "x", ExpiresAt: now.Add(time.Hour)}).Valid(now))
	assert.False(t, (&Tokens{AccessToken: "x", ExpiresAt: now.Add(10 * time.Second)}).Valid(now))
	assert.False(t, (&Tokens{ExpiresAt: now.Add(time.Hour)}).Valid(now))
}

func TestEnsureValid_NotLoggedIn(t *testing.T) {
	m, _ := newManager(&fakeClient{})

	_, err := m.EnsureValid(context.Background())
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestEnsureValid_StillFresh(t *testing.T) {
	client := &fakeClient{}
	m, store := newManager(client)
	ctx := context.Background()

	saved := &Tokens{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save(ctx, saved))

	got, err := m.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Zero(t, client.refreshed)
}

func TestEnsureValid_RefreshesExpired(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	client := &fakeClient{refreshResp: &remote.TokenResponse{
		AccessToken:  signedToken(t, "user-1", exp),
		RefreshToken: "rt-2",
	}}
	m, store := newManager(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Tokens{
		AccessToken: "stale", RefreshToken: "rt-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	got, err := m.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, client.refreshed)
	assert.Equal(t, "rt-2", got.RefreshToken)
	assert.Equal(t, "user-1", got.UserID)

	// refreshed pair is persisted
	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, got.AccessToken, reloaded.AccessToken)
}

func TestEnsureValid_RefreshRejected(t *testing.T) {
	client := &fakeClient{refreshErr: common.ErrNotAuthenticated}
	m, store := newManager(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Tokens{
		AccessToken: "stale", RefreshToken: "rt-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := m.EnsureValid(ctx)
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestLoginAndLogout(t *testing.T) {
	client := &fakeClient{}
	m, store := newManager(client)
	ctx := context.Background()

	raw := signedToken(t, "user-1", time.Now().Add(time.Hour))
	tok, err := m.Login(ctx, raw, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.UserID)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)

	require.NoError(t, m.Logout(ctx))
	saved, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestLogin_PingFails(t *testing.T) {
	client := &fakeClient{pingErr: errors.New("unreachable")}
	m, store := newManager(client)
	ctx := context.Background()

	raw := signedToken(t, "user-1", time.Now().Add(time.Hour))
	_, err := m.Login(ctx, raw, "rt-1")
	require.Error(t, err)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
}
