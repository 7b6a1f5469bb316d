package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/okian/sightline/pkg/logger"
)

// TrainingRunRepo tracks enrollment batches awaiting or undergoing
// training.
type TrainingRunRepo interface {
	Create(ctx context.Context, run *TrainingRun) (*TrainingRun, error)
	ListPending(ctx context.Context, limit int) ([]*TrainingRun, error)
	// ListPendingMatching narrows ListPending to one identity and/or one
	// enrollment day. Zero values leave that dimension unfiltered.
	ListPendingMatching(ctx context.Context, identityID int64, day time.Time, limit int) ([]*TrainingRun, error)
	// LatestNonTerminal returns the most recent pending or processing
	// run for an identity, or nil when every run has finished.
	LatestNonTerminal(ctx context.Context, identityID int64) (*TrainingRun, error)
	// MarkProcessing claims a pending run. It reports false when the run
	// was already claimed or finished by another worker.
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	// MarkCompleted finishes a run with the number of samples actually
	// applied, which may differ from the count recorded at flush time.
	MarkCompleted(ctx context.Context, id int64, sampleCount int) error
	MarkFailed(ctx context.Context, id int64) error
}

type trainingRunRepo struct {
	db  *gorm.DB
	log logger.Logger
}

// NewTrainingRunRepo creates a repository over db.
func NewTrainingRunRepo(db *gorm.DB) TrainingRunRepo {
	return &trainingRunRepo{db: db, log: logger.Named("store.trainingrun")}
}

func (r *trainingRunRepo) Create(ctx context.Context, run *TrainingRun) (*TrainingRun, error) {
	if run.Status == "" {
		run.Status = StatusPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		r.log.Error(ctx, "create training run failed",
			logger.Int64("identity_id", run.IdentityID),
			logger.Error(err))
		return nil, err
	}
	return run, nil
}

func (r *trainingRunRepo) ListPending(ctx context.Context, limit int) ([]*TrainingRun, error) {
	return r.ListPendingMatching(ctx, 0, time.Time{}, limit)
}

func (r *trainingRunRepo) ListPendingMatching(ctx context.Context, identityID int64, day time.Time, limit int) ([]*TrainingRun, error) {
	var out []*TrainingRun
	q := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("started_at")
	if identityID > 0 {
		q = q.Where("identity_id = ?", identityID)
	}
	if !day.IsZero() {
		start, end := dayBounds(day)
		q = q.Where("started_at >= ? AND started_at < ?", start, end)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *trainingRunRepo) LatestNonTerminal(ctx context.Context, identityID int64) (*TrainingRun, error) {
	var run TrainingRun
	err := r.db.WithContext(ctx).
		Where("identity_id = ? AND status IN ?", identityID, []string{StatusPending, StatusProcessing}).
		Order("started_at DESC, id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *trainingRunRepo) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&TrainingRun{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *trainingRunRepo) MarkCompleted(ctx context.Context, id int64, sampleCount int) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&TrainingRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       StatusCompleted,
			"sample_count": sampleCount,
			"completed_at": &now,
		}).Error
}

func (r *trainingRunRepo) MarkFailed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&TrainingRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       StatusFailed,
			"completed_at": &now,
		}).Error
}
