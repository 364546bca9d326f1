package artifact

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no artifact exists for the reference.
var ErrNotFound = errors.New("artifact not found")

// Store is a durable key-value store for stage outputs and rendered videos.
// References are opaque slash-separated paths owned by the job that wrote
// them; the store itself only holds bytes.
type Store interface {
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}
