package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// FileEnvVar names the environment variable pointing at an optional
// YAML configuration file.
const FileEnvVar = "SIGHTLINE_CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if SIGHTLINE_CONFIG is set
//  3. env (prefix SIGHTLINE_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv(FileEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: SIGHTLINE_REDIS_ADDR, SIGHTLINE_BATCH_SIZE, ...
	// Map env keys like SIGHTLINE_BATCH_SIZE -> batch_size (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("SIGHTLINE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "sightline_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations that no component could run with.
func (c *Config) validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: redis_addr must not be empty", ErrInvalidConfig)
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("%w: database_driver must be postgres or sqlite", ErrInvalidConfig)
	}
	if c.LiveStream == "" || c.EnrollmentStream == "" {
		return fmt.Errorf("%w: stream names must not be empty", ErrInvalidConfig)
	}
	if c.LiveStream == c.EnrollmentStream {
		return fmt.Errorf("%w: live and enrollment streams must differ", ErrInvalidConfig)
	}
	if c.Prefetch < 1 {
		return fmt.Errorf("%w: prefetch must be >= 1", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1", ErrInvalidConfig)
	}
	if c.TrainSubBatchSize < 1 {
		return fmt.Errorf("%w: train_sub_batch_size must be >= 1", ErrInvalidConfig)
	}
	if c.SyncIntervalSec < 1 {
		return fmt.Errorf("%w: sync_interval_sec must be >= 1", ErrInvalidConfig)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("%w: retention_days must be >= 1", ErrInvalidConfig)
	}
	if c.ConfidenceThreshold <= 0 {
		return fmt.Errorf("%w: confidence_threshold must be > 0", ErrInvalidConfig)
	}
	return nil
}
