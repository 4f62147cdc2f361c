// Package redislog appends call logs as JSON to a Redis list.
package redislog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// DefaultKey is the list key used when none is configured.
const DefaultKey = "orchestrator:call_logs"

// Config describes the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// Sink writes each record with RPUSH so the list stays in write order.
type Sink struct {
	client listClient
	key    string
}

var _ ports.CallLogSink = (*Sink)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newSink(client, cfg.Key), nil
}

func newSink(client listClient, key string) *Sink {
	if key == "" {
		key = DefaultKey
	}
	return &Sink{client: client, key: key}
}

func (s *Sink) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal call log: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
