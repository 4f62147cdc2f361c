package storage

import (
	"context"
	"testing"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/memory"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/slogsink"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/sqldb"
)

func TestNewSink(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.SinkConfig
		check   func(t *testing.T, v any)
		wantErr bool
	}{
		{
			name: "empty type is memory",
			cfg:  config.SinkConfig{},
			check: func(t *testing.T, v any) {
				if _, ok := v.(*memory.Store); !ok {
					t.Errorf("sink = %T, want *memory.Store", v)
				}
			},
		},
		{
			name: "slog",
			cfg:  config.SinkConfig{Type: "slog"},
			check: func(t *testing.T, v any) {
				if _, ok := v.(*slogsink.Sink); !ok {
					t.Errorf("sink = %T, want *slogsink.Sink", v)
				}
			},
		},
		{
			name: "sqlite",
			cfg:  config.SinkConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: "file:sinkfactory?mode=memory&cache=shared"}},
			check: func(t *testing.T, v any) {
				if _, ok := v.(*sqldb.Store); !ok {
					t.Errorf("sink = %T, want *sqldb.Store", v)
				}
			},
		},
		{name: "mysql without dsn", cfg: config.SinkConfig{Type: "mysql"}, wantErr: true},
		{name: "database without driver", cfg: config.SinkConfig{Type: "database"}, wantErr: true},
		{name: "redis without address", cfg: config.SinkConfig{Type: "redis"}, wantErr: true},
		{name: "rabbitmq without url", cfg: config.SinkConfig{Type: "rabbitmq"}, wantErr: true},
		{name: "unknown", cfg: config.SinkConfig{Type: "kafka"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSink(ctx, tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewSink() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSink() error = %v", err)
			}
			defer sink.Close()
			tt.check(t, sink)
		})
	}
}
