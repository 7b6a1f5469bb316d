// Package service wires the pipeline together: buffer, channel, store,
// classifier, and every worker loop, with lifecycle management for the
// whole set.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/http/ops"
	"github.com/okian/sightline/internal/adapters/mq"
	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/config"
	"github.com/okian/sightline/internal/domain/classifier"
	"github.com/okian/sightline/internal/ingest"
	"github.com/okian/sightline/internal/workers/classify"
	"github.com/okian/sightline/internal/workers/enroll"
	"github.com/okian/sightline/internal/workers/syncer"
	"github.com/okian/sightline/internal/workers/trainer"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// monitorEvery is the cadence of the runtime gauge refresh loop.
const monitorEvery = 15 * time.Second

// Channel bundles both sides of the message channel.
type Channel interface {
	mq.Publisher
	mq.Consumer
}

// Service owns every long-running component of the pipeline.
type Service struct {
	mu  sync.Mutex
	cfg *config.Config

	// Injectable for tests; built from config when nil.
	buf buffer.Buffer
	ch  Channel
	db  *gorm.DB

	identities store.IdentityRepo
	events     store.EventRepo
	runs       store.TrainingRunRepo
	handle     *classifier.Handle
	sources    []ingest.Source

	opsServer *ops.Server
	withOps   bool

	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBuffer injects a fast buffer, bypassing the redis connection.
func WithBuffer(buf buffer.Buffer) Option {
	return func(s *Service) {
		if buf != nil {
			s.buf = buf
		}
	}
}

// WithChannel injects a message channel, bypassing the redis streams.
func WithChannel(ch Channel) Option {
	return func(s *Service) {
		if ch != nil {
			s.ch = ch
		}
	}
}

// WithDatabase injects an open database handle.
func WithDatabase(db *gorm.DB) Option {
	return func(s *Service) {
		if db != nil {
			s.db = db
		}
	}
}

// WithOpsServer enables the operational HTTP listener.
func WithOpsServer(enabled bool) Option {
	return func(s *Service) {
		s.withOps = enabled
	}
}

// WithSources attaches capture sources; the service runs a live
// ingestion producer over them alongside the workers.
func WithSources(sources ...ingest.Source) Option {
	return func(s *Service) {
		s.sources = sources
	}
}

// New constructs a Service around cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		withOps: true,
		log:     logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects every backend and launches the worker loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.log.Info(ctx, "starting pipeline service")

	if err := s.connect(ctx); err != nil {
		return err
	}

	s.identities = store.NewIdentityRepo(s.db)
	s.events = store.NewEventRepo(s.db)
	s.runs = store.NewTrainingRunRepo(s.db)

	cls := classifier.NewCentroid()
	s.handle = classifier.NewHandle(cls, s.buf, logger.Get())
	if err := s.handle.Reload(ctx); err != nil {
		// No model yet is a normal cold start; consumers report
		// no-match until the first training run publishes one.
		s.log.Warn(ctx, "initial model load skipped", logger.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.spawn(func() {
		s.handle.Watch(runCtx, time.Duration(s.cfg.ModelReloadSec)*time.Second)
	})

	classifyConsumer := classify.New(s.ch, s.buf, s.handle, s.cfg.LiveStream, s.cfg.ConfidenceThreshold)
	s.spawn(func() {
		if err := classifyConsumer.Run(runCtx); err != nil {
			s.log.Error(runCtx, "classification consumer exited", logger.Error(err))
		}
	})

	enrollConsumer := enroll.New(s.ch, s.buf, s.runs, s.cfg.EnrollmentStream, s.cfg.BatchSize)
	s.spawn(func() {
		if err := enrollConsumer.Run(runCtx); err != nil {
			s.log.Error(runCtx, "enrollment consumer exited", logger.Error(err))
		}
	})

	syncWorker := syncer.New(s.buf, s.events, s.identities, syncer.Options{
		Interval:      time.Duration(s.cfg.SyncIntervalSec) * time.Second,
		CleanupEvery:  s.cfg.CleanupEveryCycles,
		RetentionDays: s.cfg.RetentionDays,
	})
	s.spawn(func() {
		if err := syncWorker.Run(runCtx); err != nil {
			s.log.Error(runCtx, "sync worker exited", logger.Error(err))
		}
	})

	trainWorker := trainer.New(s.runs, s.buf, cls, trainer.Options{
		PollInterval: time.Duration(s.cfg.TrainerPollSec) * time.Second,
		SubBatchSize: s.cfg.TrainSubBatchSize,
	})
	s.spawn(func() {
		if err := trainWorker.Run(runCtx); err != nil {
			s.log.Error(runCtx, "trainer exited", logger.Error(err))
		}
	})

	if len(s.sources) > 0 {
		producer := ingest.New(s.ch, ingest.PassthroughExtractor{}, s.cfg.LiveStream,
			ingest.WithFrameCap(s.cfg.FrameCap))
		sources := s.sources
		s.spawn(func() {
			if _, err := producer.Run(runCtx, sources...); err != nil {
				s.log.Error(runCtx, "ingestion producer exited", logger.Error(err))
			}
		})
	}

	s.spawn(func() { s.monitor(runCtx) })

	if s.withOps {
		s.opsServer = ops.NewServer(s.cfg.OpsAddr, s)
		s.opsServer.Start(ctx)
	}

	s.started = true
	s.startedAt = time.Now()
	s.log.Info(ctx, "pipeline service started",
		logger.String("live_stream", s.cfg.LiveStream),
		logger.String("enrollment_stream", s.cfg.EnrollmentStream),
		logger.Int("prefetch", s.cfg.Prefetch))
	return nil
}

// connect builds any backend not injected through options.
func (s *Service) connect(ctx context.Context) error {
	if s.buf == nil {
		redisBuf, err := buffer.NewRedis(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect fast buffer: %w", err)
		}
		s.buf = redisBuf
		if s.ch == nil {
			s.ch = mq.NewRedis(redisBuf.Client(),
				mq.WithGroup(s.cfg.ConsumerGroup),
				mq.WithPrefetch(s.cfg.Prefetch),
				mq.WithRedeliverAfter(time.Duration(s.cfg.RedeliverAfterSec)*time.Second))
		}
	}
	if s.ch == nil {
		return fmt.Errorf("no message channel configured")
	}
	if s.db == nil {
		db, err := store.Open(s.cfg.DatabaseDriver, s.cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
		if err := store.AutoMigrateAll(db); err != nil {
			return fmt.Errorf("migrate durable store: %w", err)
		}
		s.db = db
	}
	return nil
}

func (s *Service) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// monitor refreshes runtime gauges.
func (s *Service) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			metrics.UpdateSystemMemoryUsage(mem.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

// Stop shuts the pipeline down. Consumers flush their partial batches
// and the sync worker runs one final drain before connections close.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.log.Info(ctx, "stopping pipeline service")

	s.cancel()
	s.wg.Wait()

	if s.opsServer != nil {
		if err := s.opsServer.Stop(ctx); err != nil {
			s.log.Warn(ctx, "ops server shutdown failed", logger.Error(err))
		}
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.buf != nil {
		_ = s.buf.Close()
	}

	s.started = false
	s.log.Info(ctx, "pipeline service stopped")
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"started":    s.started,
		"goroutines": runtime.NumGoroutine(),
	}
	if s.started {
		stats["uptime_seconds"] = int64(time.Since(s.startedAt).Seconds())
	}
	if s.handle != nil {
		stats["model_version"] = s.handle.Version()
	}
	return stats
}
