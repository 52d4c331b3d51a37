package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object with the name exists.
var ErrNotFound = errors.New("object not found")

// Store holds named CSV artifacts. Put replaces the object as a whole: readers see
// either the previous content or the new content, never a partial write.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Name() string
}
