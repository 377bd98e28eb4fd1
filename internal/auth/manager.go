package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codetrail/internal/common"
	"codetrail/internal/logging"
	"codetrail/internal/remote"
)

// Manager hands out a usable access token, refreshing it through the sync
// service when the saved one has expired.
type Manager struct {
	store  *Store
	client remote.Client
	logger logging.Logger
	now    func() time.Time
}

func NewManager(store *Store, client remote.Client, logger logging.Logger) *Manager {
	return &Manager{store: store, client: client, logger: logger, now: time.Now}
}

// EnsureValid returns tokens that are good for at least one request.
// Returns common.ErrNotAuthenticated when nobody is logged in or the
// refresh token has been rejected.
func (m *Manager) EnsureValid(ctx context.Context) (*Tokens, error) {
	t, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, common.ErrNotAuthenticated
	}
	if t.Valid(m.now()) {
		return t, nil
	}
	if t.RefreshToken == "" {
		return nil, common.ErrNotAuthenticated
	}

	m.logger.Debug(ctx, "access token expired, refreshing")

	resp, err := m.client.RefreshToken(ctx, t.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotAuthenticated) {
			return nil, fmt.Errorf("refresh token rejected: %w", common.ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed, err := FromAccessToken(resp.AccessToken, resp.RefreshToken)
	if err != nil {
		return nil, err
	}
	if refreshed.UserID == "" {
		refreshed.UserID = resp.UserID
	}
	if refreshed.ExpiresAt.IsZero() {
		refreshed.ExpiresAt = resp.ExpiresAt
	}

	if err := m.store.Save(ctx, refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Login validates the pasted token pair against the service and persists it.
func (m *Manager) Login(ctx context.Context, accessToken, refreshToken string) (*Tokens, error) {
	t, err := FromAccessToken(accessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	if err := m.client.WithToken(t.AccessToken).Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	if err := m.store.Save(ctx, t); err != nil {
		return nil, err
	}
	m.logger.Info(ctx, "logged in", "user_id", t.UserID)
	return t, nil
}

// Logout drops the saved credentials.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Clear(ctx)
}
