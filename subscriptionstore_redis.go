package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSubscriptionsKey = "sqs-trigger:subscriptions"

// keeps every subscription as a json field of one hash, keyed by queue url
type RedisSubscriptionStore struct {
	client *redis.Client
	key    string
}

func NewRedisSubscriptionStore(addr string) (*RedisSubscriptionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisSubscriptionStore(rdb), nil
}

func newRedisSubscriptionStore(rdb *redis.Client) *RedisSubscriptionStore {
	return &RedisSubscriptionStore{
		client: rdb,
		key:    redisSubscriptionsKey,
	}
}

func (r *RedisSubscriptionStore) List(ctx context.Context) ([]SubscriptionConfig, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list subscriptions failed: %w", err)
	}

	configs := make([]SubscriptionConfig, 0, len(fields))
	for queueURL, raw := range fields {
		var cfg SubscriptionConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("invalid subscription %s: %w", queueURL, err)
		}
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].QueueURL < configs[j].QueueURL })
	return configs, nil
}

func (r *RedisSubscriptionStore) Put(ctx context.Context, cfg SubscriptionConfig) error {
	cfg.Revision = newRevision()
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, cfg.QueueURL, data).Err(); err != nil {
		return fmt.Errorf("redis put subscription failed: %w", err)
	}
	return nil
}

func (r *RedisSubscriptionStore) Delete(ctx context.Context, queueURL string) error {
	if err := r.client.HDel(ctx, r.key, queueURL).Err(); err != nil {
		return fmt.Errorf("redis delete subscription failed: %w", err)
	}
	return nil
}

func (r *RedisSubscriptionStore) Close() error {
	return r.client.Close()
}
