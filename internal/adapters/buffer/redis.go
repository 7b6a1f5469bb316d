package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/sightline/internal/domain/classifier"
	"github.com/okian/sightline/internal/domain/keys"
)

// Redis connection constants.
const (
	dialTimeout = 5 * time.Second
	popChunk    = 128
	scanCount   = 200
)

// deleteIfEmptyScript removes a list key only when it holds no elements,
// atomically on the server. Appends that land after the drain can never
// be lost to a concurrent cleanup pass.
var deleteIfEmptyScript = goredis.NewScript(`
if redis.call('LLEN', KEYS[1]) == 0 then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis implements Buffer over redis lists and string keys.
type Redis struct {
	rdb *goredis.Client
}

// NewRedis connects and pings; an unreachable buffer is a fatal
// initialization error for every component that needs one.
func NewRedis(addr, password string, db int) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb}, nil
}

// Client exposes the underlying connection for adapters sharing it.
func (r *Redis) Client() *goredis.Client { return r.rdb }

func (r *Redis) Append(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

func (r *Redis) AppendBatch(ctx context.Context, key string, values [][]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := r.rdb.RPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

func (r *Redis) PopAll(ctx context.Context, key string) ([][]byte, error) {
	var out [][]byte
	for {
		chunk, err := r.rdb.LPopCount(ctx, key, popChunk).Result()
		if errors.Is(err, goredis.Nil) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("lpop %s: %w", key, err)
		}
		for _, s := range chunk {
			out = append(out, []byte(s))
		}
		if len(chunk) < popChunk {
			return out, nil
		}
	}
}

func (r *Redis) Len(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		page, next, err := r.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		out = append(out, page...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (r *Redis) DeleteIfEmpty(ctx context.Context, key string) (bool, error) {
	n, err := deleteIfEmptyScript.Run(ctx, r.rdb, []string{key}).Int64()
	if err != nil {
		return false, fmt.Errorf("delete-if-empty %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) SetModel(ctx context.Context, data []byte) (int64, error) {
	if err := r.rdb.Set(ctx, keys.Model, data, 0).Err(); err != nil {
		return 0, fmt.Errorf("set model: %w", err)
	}
	version, err := r.rdb.Incr(ctx, keys.ModelVersion).Result()
	if err != nil {
		return 0, fmt.Errorf("bump model version: %w", err)
	}
	return version, nil
}

func (r *Redis) GetModel(ctx context.Context) ([]byte, error) {
	data, err := r.rdb.Get(ctx, keys.Model).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, classifier.ErrNoModel
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return data, nil
}

func (r *Redis) ModelVersion(ctx context.Context) (int64, error) {
	version, err := r.rdb.Get(ctx, keys.ModelVersion).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get model version: %w", err)
	}
	return version, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
