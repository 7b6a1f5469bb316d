// Package trainer turns pending training runs into model updates: it
// drains staged enrollment batches, feeds them to the classifier in
// bounded sub-batches, and publishes the refreshed model artifact.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/classifier"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// pendingFetchLimit bounds how many runs one poll claims.
const pendingFetchLimit = 10

// errBatchDrained marks a claimed run whose batch key held nothing.
// Runs flushed for the same identity on the same day share one key, so
// the first run claimed drains the samples of every sibling.
var errBatchDrained = errors.New("batch key already drained")

// Options tune the trainer's cadence and memory ceiling.
type Options struct {
	// PollInterval between pending-run sweeps.
	PollInterval time.Duration
	// SubBatchSize bounds how many samples feed one model update call.
	SubBatchSize int
}

// Trainer polls for pending runs and trains them one at a time. Model
// updates are incremental and not transactional: a failure partway
// marks the run failed but keeps whatever sub-batches already applied.
type Trainer struct {
	runs store.TrainingRunRepo
	buf  buffer.Buffer
	cls  classifier.Classifier
	opts Options
	log  logger.Logger
}

// New creates a trainer.
func New(runs store.TrainingRunRepo, buf buffer.Buffer, cls classifier.Classifier, opts Options) *Trainer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.SubBatchSize <= 0 {
		opts.SubBatchSize = 50
	}
	return &Trainer{
		runs: runs,
		buf:  buf,
		cls:  cls,
		opts: opts,
		log:  logger.Named("trainer"),
	}
}

// Run polls until ctx is cancelled.
func (t *Trainer) Run(ctx context.Context) error {
	t.log.Info(ctx, "trainer started",
		logger.Int64("poll_interval_ms", t.opts.PollInterval.Milliseconds()),
		logger.Int("sub_batch_size", t.opts.SubBatchSize))

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.RunOnce(ctx); err != nil {
				t.log.Error(ctx, "training sweep failed", logger.Error(err))
			}
		}
	}
}

// RunOnce claims and trains every currently pending run.
func (t *Trainer) RunOnce(ctx context.Context) error {
	return t.RunMatching(ctx, 0, time.Time{})
}

// RunMatching sweeps pending runs narrowed to one identity and/or one
// enrollment day. Zero values leave that dimension unfiltered.
func (t *Trainer) RunMatching(ctx context.Context, identityID int64, day time.Time) error {
	pending, err := t.runs.ListPendingMatching(ctx, identityID, day, pendingFetchLimit)
	if err != nil {
		return fmt.Errorf("list pending runs: %w", err)
	}

	for _, run := range pending {
		if ctx.Err() != nil {
			return nil
		}
		claimed, err := t.runs.MarkProcessing(ctx, run.ID)
		if err != nil {
			t.log.Error(ctx, "claim failed",
				logger.Int64("run_id", run.ID),
				logger.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		t.train(ctx, run)
	}
	return nil
}

// train executes one claimed run end to end.
func (t *Trainer) train(ctx context.Context, run *store.TrainingRun) {
	start := time.Now()
	defer func() {
		metrics.RecordTrainingLatency(float64(time.Since(start).Milliseconds()))
	}()

	applied, err := t.applyBatch(ctx, run)
	if errors.Is(err, errBatchDrained) {
		// Not a failure: a sibling run already trained these samples.
		if markErr := t.runs.MarkCompleted(ctx, run.ID, 0); markErr != nil {
			t.log.Error(ctx, "mark completed errored",
				logger.Int64("run_id", run.ID),
				logger.Error(markErr))
			return
		}
		metrics.RecordTrainingRun(store.StatusCompleted)
		t.log.Info(ctx, "run completed with no samples, batch shared with an earlier run",
			logger.Int64("run_id", run.ID),
			logger.Int64("identity_id", run.IdentityID))
		return
	}
	if err != nil {
		metrics.RecordTrainingRun(store.StatusFailed)
		t.log.Error(ctx, "training run failed",
			logger.Int64("run_id", run.ID),
			logger.Int64("identity_id", run.IdentityID),
			logger.Int("applied", applied),
			logger.Error(err))
		if markErr := t.runs.MarkFailed(ctx, run.ID); markErr != nil {
			t.log.Error(ctx, "mark failed errored",
				logger.Int64("run_id", run.ID),
				logger.Error(markErr))
		}
		return
	}

	if err := t.runs.MarkCompleted(ctx, run.ID, applied); err != nil {
		t.log.Error(ctx, "mark completed errored",
			logger.Int64("run_id", run.ID),
			logger.Error(err))
		return
	}
	metrics.RecordTrainingRun(store.StatusCompleted)
	metrics.RecordSamplesTrained(applied)
	t.log.Info(ctx, "training run complete",
		logger.Int64("run_id", run.ID),
		logger.Int64("identity_id", run.IdentityID),
		logger.Int("samples", applied))
}

// applyBatch drains the run's batch key, updates the model in
// sub-batches, and publishes the new artifact. It returns the number of
// samples actually applied, which may be fewer than the run recorded if
// some staged entries were unusable.
func (t *Trainer) applyBatch(ctx context.Context, run *store.TrainingRun) (int, error) {
	key := keys.NewBatchKey(run.StartedAt, run.IdentityID)
	raw, err := t.buf.PopAll(ctx, key.String())
	if err != nil {
		return 0, fmt.Errorf("pop batch %s: %w", key, err)
	}
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: %s", errBatchDrained, key)
	}

	samples := make([][]byte, 0, len(raw))
	labels := make([]int64, 0, len(raw))
	for _, body := range raw {
		sample, err := model.DecodeEnrollmentSample(body)
		if err != nil {
			t.log.Warn(ctx, "skipping undecodable staged sample",
				logger.String("key", key.String()),
				logger.Error(err))
			continue
		}
		samples = append(samples, sample.Sample)
		labels = append(labels, sample.IdentityID)
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("no usable samples in %s", key)
	}

	applied := 0
	for from := 0; from < len(samples); from += t.opts.SubBatchSize {
		to := from + t.opts.SubBatchSize
		if to > len(samples) {
			to = len(samples)
		}
		if err := t.cls.Update(ctx, samples[from:to], labels[from:to]); err != nil {
			return applied, fmt.Errorf("model update: %w", err)
		}
		applied += to - from
	}

	artifact, err := t.cls.Serialize()
	if err != nil {
		return applied, fmt.Errorf("serialize model: %w", err)
	}
	version, err := t.buf.SetModel(ctx, artifact)
	if err != nil {
		return applied, fmt.Errorf("publish model: %w", err)
	}
	metrics.UpdateModelVersion(version)
	t.log.Info(ctx, "model published",
		logger.Int64("version", version),
		logger.Int("bytes", len(artifact)))
	return applied, nil
}
