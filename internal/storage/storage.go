// Package storage builds the configured call-log sink.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/amqplog"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/memory"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/redislog"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/slogsink"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/sqldb"
)

// DefaultSQLitePath is used when the sqlite sink has no path configured.
const DefaultSQLitePath = "orchestrator.db"

// NewSink creates the call-log sink selected by cfg.Type. An empty type
// selects the in-memory sink.
func NewSink(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (ports.CallLogSink, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "slog":
		return slogsink.New(logger), nil
	case "sqlite":
		path := cfg.SQLite.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		return sqldb.NewSQLite(path)
	case "mysql", "database":
		driver := cfg.Database.Driver
		if driver == "" {
			driver = cfg.Type
		}
		if driver == "database" {
			return nil, fmt.Errorf("database sink requires logging.sink.database.driver")
		}
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("%s sink requires logging.sink.database.dsn", driver)
		}
		return sqldb.New(sqldb.Config{Driver: driver, DSN: cfg.Database.DSN})
	case "redis":
		return redislog.New(ctx, redislog.Config{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return amqplog.New(amqplog.Config{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("unknown call log sink type: %s", cfg.Type)
	}
}
