// Package filestore persists uploaded source files so a pipeline stage can
// re-read the original bytes after the request that carried them has ended.
package filestore

import (
	"context"
)

// Store saves and fetches raw uploaded files by URI.
type Store interface {
	// Save writes the bytes under the given object name and returns the
	// canonical URI for later fetches.
	Save(ctx context.Context, objectName, contentType string, data []byte) (string, error)
	// Fetch reads back the bytes for a URI produced by Save.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}
