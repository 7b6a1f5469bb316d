// Package syncer moves buffered event records into the durable store on
// a fixed interval and retires stale, empty buffer keys.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// Options tune the worker's cadence and retention window.
type Options struct {
	// Interval between drain cycles.
	Interval time.Duration
	// CleanupEvery counts drain cycles between cleanup passes.
	CleanupEvery int
	// RetentionDays is the age past which an empty key is deleted.
	RetentionDays int
}

// Syncer drains fast-buffer event keys into the durable store. Records
// are popped before they are written, so a crash inside one cycle loses
// at most the popped batch and never duplicates durable rows.
type Syncer struct {
	buf        buffer.Buffer
	events     store.EventRepo
	identities store.IdentityRepo
	opts       Options
	cycles     int
	log        logger.Logger
}

// New creates a sync worker.
func New(buf buffer.Buffer, events store.EventRepo, identities store.IdentityRepo, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.CleanupEvery <= 0 {
		opts.CleanupEvery = 100
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 7
	}
	return &Syncer{
		buf:        buf,
		events:     events,
		identities: identities,
		opts:       opts,
		log:        logger.Named("syncer"),
	}
}

// Run cycles until ctx is cancelled, then performs one final drain so a
// graceful stop leaves the buffer empty.
func (s *Syncer) Run(ctx context.Context) error {
	s.log.Info(ctx, "sync worker started",
		logger.Int64("interval_ms", s.opts.Interval.Milliseconds()),
		logger.Int("cleanup_every", s.opts.CleanupEvery),
		logger.Int("retention_days", s.opts.RetentionDays))

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.RunOnce(final); err != nil {
				s.log.Error(final, "final drain failed", logger.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				metrics.RecordSyncError()
				s.log.Error(ctx, "sync cycle failed", logger.Error(err))
			}
			s.cycles++
			if s.cycles%s.opts.CleanupEvery == 0 {
				s.cleanup(ctx)
			}
		}
	}
}

// RunOnce drains every event key once. Failures against single keys are
// logged and skipped so one bad key cannot starve the rest.
func (s *Syncer) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RecordSyncLatency(float64(time.Since(start).Milliseconds()))
	}()
	metrics.RecordSyncCycle()

	eventKeys, err := s.buf.Keys(ctx, keys.EventPattern())
	if err != nil {
		return fmt.Errorf("enumerate event keys: %w", err)
	}
	if len(eventKeys) == 0 {
		metrics.UpdateBufferQueueDepth(0)
		return nil
	}
	metrics.UpdateBufferQueueDepth(s.stagedDepth(ctx, eventKeys))

	active, err := s.identities.ActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("load active identities: %w", err)
	}

	var synced, dropped int
	for _, key := range eventKeys {
		n, d, err := s.drainKey(ctx, key, active)
		if err != nil {
			metrics.RecordSyncError()
			s.log.Error(ctx, "drain failed, popped records lost",
				logger.String("key", key),
				logger.Error(err))
			continue
		}
		synced += n
		dropped += d
	}

	if synced > 0 || dropped > 0 {
		metrics.RecordEventsSynced(synced)
		metrics.RecordEventsDropped(dropped)
		s.log.Info(ctx, "sync cycle complete",
			logger.Int("keys", len(eventKeys)),
			logger.Int("synced", synced),
			logger.Int("dropped", dropped))
	}
	return nil
}

// stagedDepth counts the records staged under the given keys at the
// start of a cycle. Length errors leave that key out of the total.
func (s *Syncer) stagedDepth(ctx context.Context, eventKeys []string) int64 {
	var depth int64
	for _, key := range eventKeys {
		n, err := s.buf.Len(ctx, key)
		if err != nil {
			continue
		}
		depth += n
	}
	return depth
}

// drainKey pops one key and bulk-inserts its surviving records in a
// single transaction. Partial inserts are impossible; a failed commit
// loses the popped batch rather than requeueing it.
func (s *Syncer) drainKey(ctx context.Context, key string, active map[int64]struct{}) (synced, dropped int, err error) {
	raw, err := s.buf.PopAll(ctx, key)
	if err != nil {
		return 0, 0, fmt.Errorf("pop %s: %w", key, err)
	}
	if len(raw) == 0 {
		return 0, 0, nil
	}
	metrics.RecordSyncBatchSize(len(raw))

	rows := make([]*store.Event, 0, len(raw))
	for _, body := range raw {
		rec, err := model.DecodeEventRecord(body)
		if err != nil {
			dropped++
			s.log.Warn(ctx, "dropping undecodable buffered record",
				logger.String("key", key),
				logger.Error(err))
			continue
		}
		if _, ok := active[rec.IdentityID]; !ok {
			dropped++
			s.log.Warn(ctx, "dropping record for inactive identity",
				logger.String("key", key),
				logger.Int64("identity_id", rec.IdentityID))
			continue
		}
		rows = append(rows, &store.Event{
			IdentityID: rec.IdentityID,
			SourceID:   rec.SourceID,
			ObservedAt: rec.ObservedAt,
			Confidence: rec.Confidence,
		})
	}

	if err := s.events.CreateMany(ctx, rows); err != nil {
		return 0, dropped, fmt.Errorf("insert %d rows for %s: %w", len(rows), key, err)
	}
	return len(rows), dropped, nil
}

// cleanup deletes buffer keys older than the retention window, but only
// while their lists are empty. A stale key that still holds records is
// left for a later drain.
func (s *Syncer) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.opts.RetentionDays)

	for _, pattern := range []string{keys.EventPattern(), keys.BatchPattern()} {
		found, err := s.buf.Keys(ctx, pattern)
		if err != nil {
			s.log.Warn(ctx, "cleanup enumeration failed",
				logger.String("pattern", pattern),
				logger.Error(err))
			continue
		}
		for _, key := range found {
			date, ok := keyDate(key)
			if !ok || !date.Before(cutoff) {
				continue
			}
			deleted, err := s.buf.DeleteIfEmpty(ctx, key)
			if err != nil {
				s.log.Warn(ctx, "cleanup delete failed",
					logger.String("key", key),
					logger.Error(err))
				continue
			}
			if deleted {
				metrics.RecordKeyCleaned()
				s.log.Debug(ctx, "stale key removed", logger.String("key", key))
			}
		}
	}
}

// Cleanup runs one cleanup pass immediately.
func (s *Syncer) Cleanup(ctx context.Context) {
	s.cleanup(ctx)
}

func keyDate(key string) (time.Time, bool) {
	if ek, err := keys.ParseEventKey(key); err == nil {
		return ek.Date, true
	}
	if bk, err := keys.ParseBatchKey(key); err == nil {
		return bk.Date, true
	}
	return time.Time{}, false
}
