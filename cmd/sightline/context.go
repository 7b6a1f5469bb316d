package main

import (
	"context"
	"os"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/mq"
	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/config"
	"github.com/okian/sightline/pkg/logger"
)

// commandContext lazily loads configuration and backend connections so
// commands only pay for what they touch.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig(ctx context.Context) (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			if err := os.Setenv(config.FileEnvVar, strings.TrimSpace(*c.configFlag)); err != nil {
				c.configErr = err
				return
			}
		}
		cfg, err := config.Load(ctx)
		if err != nil {
			c.configErr = err
			return
		}
		if err := logger.Init(); err != nil {
			c.configErr = err
			return
		}
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// openStore opens the durable store without migrating; the migrate
// command owns schema changes.
func (c *commandContext) openStore(ctx context.Context) (*gorm.DB, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
}

// openBuffer connects to the fast buffer.
func (c *commandContext) openBuffer(ctx context.Context) (*buffer.Redis, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return nil, err
	}
	return buffer.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

// openChannel connects to the message channel over the buffer's redis
// connection.
func (c *commandContext) openChannel(ctx context.Context) (*buffer.Redis, *mq.Redis, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	buf, err := c.openBuffer(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch := mq.NewRedis(buf.Client(),
		mq.WithGroup(cfg.ConsumerGroup),
		mq.WithPrefetch(cfg.Prefetch))
	return buf, ch, nil
}
