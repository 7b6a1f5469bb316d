package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/okian/sightline/pkg/logger"
)

// DailySummary aggregates one identity's confirmed events on one day.
type DailySummary struct {
	IdentityID int64
	Name       string
	Count      int64
	FirstSeen  time.Time
	LastSeen   time.Time
}

// EventRepo manages confirmed detection events.
type EventRepo interface {
	// CreateMany inserts all events in a single transaction so a failed
	// sync pass leaves no partial batch behind.
	CreateMany(ctx context.Context, events []*Event) error
	ListByDate(ctx context.Context, day time.Time) ([]*Event, error)
	ListByIdentity(ctx context.Context, identityID int64, from, to time.Time) ([]*Event, error)
	SummarizeDay(ctx context.Context, day time.Time) ([]*DailySummary, error)
	// DeleteBefore removes events observed before the cutoff and returns
	// how many rows went away.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventRepo struct {
	db  *gorm.DB
	log logger.Logger
}

// NewEventRepo creates a repository over db.
func NewEventRepo(db *gorm.DB) EventRepo {
	return &eventRepo{db: db, log: logger.Named("store.event")}
}

func (r *eventRepo) CreateMany(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&events).Error
	})
	if err != nil {
		r.log.Error(ctx, "bulk event insert failed",
			logger.Int("rows", len(events)),
			logger.Error(err))
	}
	return err
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := day.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}

func (r *eventRepo) ListByDate(ctx context.Context, day time.Time) ([]*Event, error) {
	start, end := dayBounds(day)
	var out []*Event
	err := r.db.WithContext(ctx).
		Where("observed_at >= ? AND observed_at < ?", start, end).
		Order("observed_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepo) ListByIdentity(ctx context.Context, identityID int64, from, to time.Time) ([]*Event, error) {
	var out []*Event
	q := r.db.WithContext(ctx).Where("identity_id = ?", identityID)
	if !from.IsZero() {
		q = q.Where("observed_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("observed_at < ?", to)
	}
	if err := q.Order("observed_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepo) SummarizeDay(ctx context.Context, day time.Time) ([]*DailySummary, error) {
	start, end := dayBounds(day)
	var out []*DailySummary
	err := r.db.WithContext(ctx).
		Model(&Event{}).
		Select("events.identity_id, identities.name, COUNT(*) as count, MIN(events.observed_at) as first_seen, MAX(events.observed_at) as last_seen").
		Joins("JOIN identities ON identities.id = events.identity_id").
		Where("events.observed_at >= ? AND events.observed_at < ?", start, end).
		Group("events.identity_id, identities.name").
		Order("events.identity_id").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("observed_at < ?", cutoff).
		Delete(&Event{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
