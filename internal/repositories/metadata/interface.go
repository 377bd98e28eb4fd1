// Package metadata stores small key/value state in the local database:
// the pull watermark, the last sync time, and cached credentials.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns the value for key, or nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
