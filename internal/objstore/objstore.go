// Package objstore uploads visual artifacts to an S3-compatible bucket and
// hands back the canonical object keys the sync service references.
package objstore

import (
	"context"
	"io"
)

// Store is the object-storage surface the push engine and the wipe command use.
type Store interface {
	// Upload writes body under key and returns the public URL of the object.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)

	// Download streams the object at key. The caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
