package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// ModelSource reads the shared model artifact and its version counter.
// The fast buffer implements this over its singleton model keys.
type ModelSource interface {
	// ModelVersion returns the shared counter, 0 when no model exists.
	ModelVersion(ctx context.Context) (int64, error)

	// GetModel returns the current artifact bytes.
	GetModel(ctx context.Context) ([]byte, error)
}

// ErrNoModel is returned by a ModelSource when no artifact has been
// persisted yet.
var ErrNoModel = errors.New("no model artifact available")

// Handle is an explicitly owned, hot-swappable model reference shared by
// consumer slots. It reloads from the ModelSource whenever the shared
// version counter advances past the loaded version.
type Handle struct {
	cls     Classifier
	src     ModelSource
	version atomic.Int64
	log     logger.Logger
}

// NewHandle wraps a classifier with version-tracked reloading.
func NewHandle(cls Classifier, src ModelSource, log logger.Logger) *Handle {
	return &Handle{cls: cls, src: src, log: log.Named("model-handle")}
}

// Predict delegates to the currently loaded model.
func (h *Handle) Predict(ctx context.Context, sample []byte) (int64, float64, bool) {
	return h.cls.Predict(ctx, sample)
}

// Version returns the loaded model version (0 before the first load).
func (h *Handle) Version() int64 {
	return h.version.Load()
}

// Reload fetches and loads the artifact when the shared counter has moved.
// It is a no-op when the loaded version is current.
func (h *Handle) Reload(ctx context.Context) error {
	remote, err := h.src.ModelVersion(ctx)
	if err != nil {
		return fmt.Errorf("read model version: %w", err)
	}
	if remote == 0 || remote == h.version.Load() {
		return nil
	}

	data, err := h.src.GetModel(ctx)
	if err != nil {
		if errors.Is(err, ErrNoModel) {
			return nil
		}
		return fmt.Errorf("fetch model artifact: %w", err)
	}
	if err := h.cls.Load(data); err != nil {
		return fmt.Errorf("load model artifact: %w", err)
	}

	h.version.Store(remote)
	metrics.UpdateModelVersion(remote)
	h.log.Info(ctx, "model reloaded", logger.Int64("version", remote))
	return nil
}

// Watch polls for version changes until ctx is canceled. Reload failures
// are logged and retried on the next tick.
func (h *Handle) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Reload(ctx); err != nil {
				h.log.Warn(ctx, "model reload failed", logger.Error(err))
			}
		}
	}
}
