package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/merlinn-co/merlinn/pkg/config"
)

// listPusher is the slice of *redis.Client the dispatcher uses.
type listPusher interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// RedisDispatcher queues build tasks on a Redis list the builder consumes
// with BRPOP.
type RedisDispatcher struct {
	client listPusher
	key    string
}

// NewRedisClient creates a go-redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password(),
		DB:       cfg.DB,
	})
}

// NewRedisDispatcher creates a RedisDispatcher pushing onto key.
func NewRedisDispatcher(client listPusher, key string) *RedisDispatcher {
	return &RedisDispatcher{client: client, key: key}
}

// Dispatch implements Dispatcher.
func (d *RedisDispatcher) Dispatch(ctx context.Context, task BuildTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal build task: %w", err)
	}
	depth, err := d.client.LPush(ctx, d.key, payload).Result()
	if err != nil {
		return fmt.Errorf("push build task: %w", err)
	}
	slog.Info("Build task queued", "index_id", task.IndexID, "organization_id", task.OrganizationID,
		"queue", d.key, "depth", depth)
	return nil
}
