package report

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const historyLimit = 100

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key receives every summary (LPUSH, trimmed to the latest 100).
	Key string
	// Channel is published to once per summary.
	Channel string
}

// RedisPublisher ships summaries to Redis so several load generators can be
// aggregated by one consumer.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &RedisPublisher{client: client, cfg: cfg}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	if p.cfg.Key != "" {
		pipe.LPush(ctx, p.cfg.Key, data)
		pipe.LTrim(ctx, p.cfg.Key, 0, historyLimit-1)
	}
	if p.cfg.Channel != "" {
		pipe.Publish(ctx, p.cfg.Channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
