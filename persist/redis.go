package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/keplerhq/kepler/insight"
)

const (
	redisRunKeyPrefix   = "kepler:run:"
	redisItemsKeyPrefix = "kepler:items:"
)

// RedisStore is a Redis implementation of Store.
//
// Runs are stored as JSON values and items as a list per run, with an
// optional TTL for ephemeral result caching. Suited to deployments that
// already run Redis and do not need durable history.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies connectivity.
// A zero ttl keeps run data until explicitly deleted.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// CreateRun implements the Store interface.
func (r *RedisStore) CreateRun(ctx context.Context, run insight.Run) error {
	return r.writeRun(ctx, run)
}

// GetRun implements the Store interface.
func (r *RedisStore) GetRun(ctx context.Context, runID string) (insight.Run, error) {
	data, err := r.client.Get(ctx, redisRunKeyPrefix+runID).Result()
	if err == redis.Nil {
		return insight.Run{}, ErrNotFound
	}
	if err != nil {
		return insight.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	var run insight.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return insight.Run{}, fmt.Errorf("failed to decode run: %w", err)
	}
	return run, nil
}

// SaveItems implements the Store interface.
func (r *RedisStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	key := redisItemsKeyPrefix + runID
	values := make([]interface{}, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return 0, fmt.Errorf("failed to encode item %q: %w", item.Title, err)
		}
		values = append(values, data)
	}
	if err := r.client.RPush(ctx, key, values...).Err(); err != nil {
		return 0, fmt.Errorf("failed to push items: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return len(items), fmt.Errorf("failed to set items TTL: %w", err)
		}
	}
	return len(items), nil
}

// ListItems implements the Store interface.
func (r *RedisStore) ListItems(ctx context.Context, runID string) ([]insight.MetricItem, error) {
	values, err := r.client.LRange(ctx, redisItemsKeyPrefix+runID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	items := make([]insight.MetricItem, 0, len(values))
	for _, v := range values {
		var item insight.MetricItem
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// MarkRunStarted implements the Store interface.
func (r *RedisStore) MarkRunStarted(ctx context.Context, runID string) error {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.CanTransition(insight.StatusRunning) {
		return nil
	}
	run.Status = insight.StatusRunning
	return r.writeRun(ctx, run)
}

// MarkRunComplete implements the Store interface.
func (r *RedisStore) MarkRunComplete(ctx context.Context, runID string, itemsSaved int) error {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	now := time.Now()
	run.Status = insight.StatusCompleted
	run.CompletedAt = &now
	run.ItemsSaved = itemsSaved
	return r.writeRun(ctx, run)
}

// MarkRunFailed implements the Store interface.
func (r *RedisStore) MarkRunFailed(ctx context.Context, runID, reason string) error {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	now := time.Now()
	run.Status = insight.StatusFailed
	run.CompletedAt = &now
	run.Error = reason
	return r.writeRun(ctx, run)
}

// Close implements the Store interface.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) writeRun(ctx context.Context, run insight.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	if err := r.client.Set(ctx, redisRunKeyPrefix+run.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}
