package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a named artifact does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore stores the named persistence artifacts of one index instance.
//
// Put must replace the previous artifact atomically: readers observe either
// the old bytes or the new bytes, never a partial write.
type BlobStore interface {
	// Put writes an artifact, replacing any previous version atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Get reads the full contents of an artifact.
	// Returns ErrNotFound if the artifact does not exist.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes an artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of artifacts starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
