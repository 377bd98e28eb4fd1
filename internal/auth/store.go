package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"codetrail/internal/repositories/metadata"
)

const tokensKey = "auth.tokens"

// Store persists the token pair in the local metadata table.
type Store struct {
	meta metadata.Repository
}

func NewStore(meta metadata.Repository) *Store {
	return &Store{meta: meta}
}

// Load returns the saved tokens, or nil when nobody is logged in.
func (s *Store) Load(ctx context.Context) (*Tokens, error) {
	raw, err := s.meta.Get(ctx, tokensKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode saved tokens: %w", err)
	}
	return &t, nil
}

func (s *Store) Save(ctx context.Context, t *Tokens) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := s.meta.Set(ctx, tokensKey, raw); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.meta.Delete(ctx, tokensKey); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}
