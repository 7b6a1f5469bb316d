// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file, and env vars on top.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// OpsAddr configures the operational HTTP listen address
	// (health, stats, Prometheus metrics), e.g. ":9090".
	OpsAddr string `koanf:"ops_addr"`

	// RedisAddr is the fast buffer / message channel address, host:port.
	RedisAddr string `koanf:"redis_addr"`

	// RedisPassword is optional.
	RedisPassword string `koanf:"redis_password"`

	// RedisDB selects the logical redis database.
	RedisDB int `koanf:"redis_db"`

	// DatabaseDriver selects the durable store driver: postgres or sqlite.
	DatabaseDriver string `koanf:"database_driver"`

	// DatabaseDSN is the durable store connection string.
	DatabaseDSN string `koanf:"database_dsn"`

	// LiveStream and EnrollmentStream name the two durable queues.
	LiveStream       string `koanf:"live_stream"`
	EnrollmentStream string `koanf:"enrollment_stream"`

	// ConsumerGroup names the consumer group shared by worker replicas.
	ConsumerGroup string `koanf:"consumer_group"`

	// Prefetch bounds unacknowledged in-flight messages per consumer.
	Prefetch int `koanf:"prefetch"`

	// RedeliverAfterSec is how long a message may stay pending on a dead
	// consumer before it is claimed and redelivered.
	RedeliverAfterSec int `koanf:"redeliver_after_sec"`

	// Sources maps source identifiers to capture endpoints.
	Sources map[string]string `koanf:"sources"`

	// FrameCap optionally bounds frames per capture loop (0 = unbounded).
	FrameCap int `koanf:"frame_cap"`

	// ConfidenceThreshold accepts a match when the classifier distance is
	// strictly below it (lower distance = stronger match).
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// BatchSize is the enrollment batch flush threshold.
	BatchSize int `koanf:"batch_size"`

	// TrainSubBatchSize bounds samples per incremental model update.
	TrainSubBatchSize int `koanf:"train_sub_batch_size"`

	// SyncIntervalSec is the fast-buffer to durable-store sync period.
	SyncIntervalSec int `koanf:"sync_interval_sec"`

	// CleanupEveryCycles runs retention cleanup every N sync cycles.
	CleanupEveryCycles int `koanf:"cleanup_every_cycles"`

	// RetentionDays keeps drained buffer keys around for manual inspection.
	RetentionDays int `koanf:"retention_days"`

	// TrainerPollSec is the pending-training-run poll period.
	TrainerPollSec int `koanf:"trainer_poll_sec"`

	// ModelReloadSec is how often consumers check the shared model version.
	ModelReloadSec int `koanf:"model_reload_sec"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		OpsAddr:             ":9090",
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		DatabaseDriver:      "sqlite",
		DatabaseDSN:         "sightline.db",
		LiveStream:          "live-events",
		EnrollmentStream:    "enrollment-events",
		ConsumerGroup:       "sightline",
		Prefetch:            5,
		RedeliverAfterSec:   60,
		Sources:             map[string]string{},
		FrameCap:            0,
		ConfidenceThreshold: 70.0,
		BatchSize:           50,
		TrainSubBatchSize:   50,
		SyncIntervalSec:     10,
		CleanupEveryCycles:  100,
		RetentionDays:       7,
		TrainerPollSec:      30,
		ModelReloadSec:      15,
	}
}
