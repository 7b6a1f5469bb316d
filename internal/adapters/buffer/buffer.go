// Package buffer defines the fast write-buffer contract: a low-latency,
// weakly durable staging store bridging real-time ingestion and batch
// durable writes.
//
// Keys follow the formats in internal/domain/keys. List operations must
// be atomic under concurrent producers and consumers; callers rely on the
// store's native list semantics instead of explicit locking.
package buffer

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed buffer.
var ErrClosed = errors.New("buffer closed")

// Buffer is the staging store used by consumers, the sync worker, and
// the trainer.
type Buffer interface {
	// Append pushes one encoded record onto the list at key.
	Append(ctx context.Context, key string, value []byte) error

	// AppendBatch pushes all values onto the list at key as one operation.
	AppendBatch(ctx context.Context, key string, values [][]byte) error

	// PopAll destructively drains the list at key, oldest first.
	// An empty or missing key yields an empty slice, not an error.
	PopAll(ctx context.Context, key string) ([][]byte, error)

	// Len reports the current list length at key.
	Len(ctx context.Context, key string) (int64, error)

	// Keys enumerates keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// DeleteIfEmpty removes key only when its list is empty, atomically
	// with respect to concurrent appends. Reports whether it deleted.
	DeleteIfEmpty(ctx context.Context, key string) (bool, error)

	// SetModel stores the serialized model artifact and bumps the shared
	// version counter, returning the new version.
	SetModel(ctx context.Context, data []byte) (int64, error)

	// GetModel returns the current model artifact, or
	// classifier.ErrNoModel when none has been stored.
	GetModel(ctx context.Context) ([]byte, error)

	// ModelVersion returns the shared version counter, 0 when unset.
	ModelVersion(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
