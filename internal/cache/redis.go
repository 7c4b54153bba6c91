package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisCounter keeps daily counters in one Redis hash per day
type RedisCounter struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisCounter connects to Redis and verifies the connection
func NewRedisCounter(config *Config, logger *zap.Logger) (*RedisCounter, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	counter := &RedisCounter{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
		now:    time.Now,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := counter.client.Ping(ctx).Err(); err != nil {
		counter.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Detection counters initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("pool_size", opts.PoolSize),
		zap.Duration("retention", config.Retention))

	return counter, nil
}

func (rc *RedisCounter) dayKey(date string) string {
	return fmt.Sprintf("%s:stats:%s", rc.config.KeyPrefix, date)
}

// incr applies field increments to today's hash in one pipeline
func (rc *RedisCounter) incr(ctx context.Context, fields map[string]int64) error {
	if len(fields) == 0 {
		return nil
	}

	key := rc.dayKey(rc.now().UTC().Format(dayLayout))
	pipe := rc.client.Pipeline()
	for field, n := range fields {
		pipe.HIncrBy(ctx, key, field, n)
	}
	if rc.config.Retention > 0 {
		pipe.Expire(ctx, key, rc.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		rc.logger.Error("Counter update failed", zap.Error(err))
		return fmt.Errorf("counter update failed: %w", err)
	}
	return nil
}

// RecordRequest counts one proxied or API request
func (rc *RedisCounter) RecordRequest(ctx context.Context, provider string) error {
	fields := map[string]int64{fieldRequests: 1}
	if provider != "" {
		fields[fieldProviderPrefix+provider] = 1
	}
	return rc.incr(ctx, fields)
}

// RecordMasking counts masked items per category
func (rc *RedisCounter) RecordMasking(ctx context.Context, categories map[string]int) error {
	return rc.incr(ctx, prefixed(fieldMaskedPrefix, categories))
}

// RecordLeakage counts leakage warnings per severity
func (rc *RedisCounter) RecordLeakage(ctx context.Context, severities map[string]int) error {
	return rc.incr(ctx, prefixed(fieldLeakagePrefix, severities))
}

// Snapshot reads the last n days of counters
func (rc *RedisCounter) Snapshot(ctx context.Context, days int) (*Stats, error) {
	dates := lastDays(rc.now(), days)

	pipe := rc.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, rc.dayKey(date))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	result := make([]DayStats, 0, len(dates))
	for i, cmd := range cmds {
		values, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read counters for %s: %w", dates[i], err)
		}

		day := newDayStats(dates[i])
		for field, raw := range values {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				rc.logger.Warn("Skipping malformed counter", zap.String("field", field))
				continue
			}
			day.apply(field, n)
		}
		result = append(result, day)
	}

	return buildStats(result), nil
}

// Clear removes all counters under the key prefix
func (rc *RedisCounter) Clear(ctx context.Context) error {
	pattern := rc.config.KeyPrefix + ":stats:*"

	// Use SCAN to find all keys with our prefix
	iter := rc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan counter keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			rc.logger.Error("Failed to delete counter keys", zap.Error(err))
			return fmt.Errorf("failed to delete counter keys: %w", err)
		}
	}

	rc.logger.Info("Counters cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (rc *RedisCounter) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

func prefixed(prefix string, counts map[string]int) map[string]int64 {
	fields := make(map[string]int64, len(counts))
	for k, v := range counts {
		if v > 0 {
			fields[prefix+k] = int64(v)
		}
	}
	return fields
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
