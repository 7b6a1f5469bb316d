package store

import "time"

// TrainingRun statuses. A run moves pending -> processing and ends in
// completed or failed; pending and processing are non-terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Identity is an enrolled subject. Deactivating an identity stops its
// events from syncing without deleting its history.
type Identity struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"size:255;not null"`
	Email      string `gorm:"size:255"`
	Department string `gorm:"size:128"`
	Role       string `gorm:"size:128"`
	Active     bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is one confirmed detection moved out of the fast buffer by the
// sync worker.
type Event struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	IdentityID int64     `gorm:"not null;index:idx_events_identity_observed,priority:1"`
	Identity   *Identity `gorm:"foreignKey:IdentityID"`
	SourceID   string    `gorm:"size:128;not null"`
	ObservedAt time.Time `gorm:"not null;index;index:idx_events_identity_observed,priority:2"`
	Confidence float64   `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TrainingRun tracks one enrollment batch through the trainer.
type TrainingRun struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	IdentityID  int64     `gorm:"not null;index"`
	Identity    *Identity `gorm:"foreignKey:IdentityID"`
	SampleCount int       `gorm:"not null"`
	Status      string    `gorm:"size:32;not null;index"`
	StartedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time
}
