// Package redis provides a Redis-backed store for step timeouts.
//
// Deadlines live in a sorted set scored by due time in milliseconds, and the
// timeout records in a hash keyed by the same member.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "stepflow:timeouts"

// TimeoutStore implements persistence.TimeoutRepository on Redis.
type TimeoutStore struct {
	client redis.UniversalClient
	logger *slog.Logger
	dueKey string
	recKey string
}

// NewTimeoutStore connects to the Redis server at redisURL (redis://[:password@]host:port/db).
func NewTimeoutStore(ctx context.Context, logger *slog.Logger, redisURL string) (*TimeoutStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewTimeoutStoreWithClient(client, logger, defaultKeyPrefix), nil
}

// NewTimeoutStoreWithClient wraps an existing client. keyPrefix namespaces the two keys used.
func NewTimeoutStoreWithClient(client redis.UniversalClient, logger *slog.Logger, keyPrefix string) *TimeoutStore {
	return &TimeoutStore{
		client: client,
		logger: logger,
		dueKey: keyPrefix + ":due",
		recKey: keyPrefix + ":records",
	}
}

func (s *TimeoutStore) ScheduleTimeout(ctx context.Context, timeout *models.StepTimeout) error {
	record, err := json.Marshal(timeout)
	if err != nil {
		return fmt.Errorf("failed to marshal timeout: %w", err)
	}

	key := timeout.Key()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recKey, key, record)
		pipe.ZAdd(ctx, s.dueKey, redis.Z{Score: float64(timeout.DueAt.UnixMilli()), Member: key})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule timeout %s: %w", key, err)
	}

	return nil
}

func (s *TimeoutStore) CancelTimeout(ctx context.Context, tenantID, instanceID, stepID string) error {
	key := models.TimeoutKey(tenantID, instanceID, stepID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.dueKey, key)
		pipe.HDel(ctx, s.recKey, key)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel timeout %s: %w", key, err)
	}

	return nil
}

func (s *TimeoutStore) DueTimeouts(ctx context.Context, now time.Time, limit int) ([]*models.StepTimeout, error) {
	if limit <= 0 {
		limit = persistence.DefaultTimeoutBatch
	}

	keys, err := s.client.ZRangeByScore(ctx, s.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due timeouts: %w", err)
	}

	timeouts := make([]*models.StepTimeout, 0, len(keys))

	if len(keys) == 0 {
		return timeouts, nil
	}

	records, err := s.client.HMGet(ctx, s.recKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load timeouts: %w", err)
	}

	for i, record := range records {
		raw, ok := record.(string)
		if !ok {
			// cancelled between the two reads
			s.logger.DebugContext(ctx, "Timeout record missing", "key", keys[i])

			continue
		}

		var timeout models.StepTimeout
		if err := json.Unmarshal([]byte(raw), &timeout); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timeout %s: %w", keys[i], err)
		}

		timeouts = append(timeouts, &timeout)
	}

	return timeouts, nil
}

// HealthCheck pings the server.
func (s *TimeoutStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *TimeoutStore) Close() error {
	return s.client.Close()
}
