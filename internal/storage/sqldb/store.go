package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/dialect"
)

// Store writes call logs to a SQL database. SQLite and MySQL are supported.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.CallLogSink = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // sqlite or mysql
	DSN    string
}

// New opens the database, applies dialect pragmas and creates the call_logs
// table if it does not exist.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite opens a SQLite store at path.
func NewSQLite(path string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: path})
}

// DB returns the underlying sqlx.DB
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	d := s.dialect
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS call_logs (
id %[1]s PRIMARY KEY,
kind VARCHAR(32) NOT NULL,
run_id VARCHAR(64) NOT NULL,
trace_id VARCHAR(64) NOT NULL,
user_id VARCHAR(255) NOT NULL,
conversation_id VARCHAR(255) NOT NULL,
pipeline_id VARCHAR(255) NOT NULL,
model VARCHAR(255) NOT NULL,
stream %[2]s NOT NULL DEFAULT 0,
prompt %[3]s,
output %[3]s,
usage_json %[3]s,
cost_usd %[4]s,
status VARCHAR(32) NOT NULL,
error_type VARCHAR(255) NOT NULL,
error_message %[3]s,
reason %[3]s,
attempts INTEGER NOT NULL DEFAULT 0,
duration_ns BIGINT NOT NULL DEFAULT 0,
created_at %[5]s NOT NULL
)`, d.KeyType(), d.BooleanType(), d.TextType(), d.FloatType(), d.TimestampType())

	if _, err := s.db.Exec(stmt); err != nil {
		return err
	}
	return nil
}

// WriteCallLog inserts one record.
func (s *Store) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	prompt, err := marshalNullable(rec.Prompt, len(rec.Prompt) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal prompt: %w", err)
	}
	output, err := marshalNullable(rec.Output, rec.Output != nil)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	usage, err := marshalNullable(rec.Usage, rec.Usage != nil)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}

	var cost sql.NullFloat64
	if c := rec.CostUSD(); c != nil {
		cost = sql.NullFloat64{Float64: *c, Valid: true}
	}

	query := s.dialect.Rebind(`
INSERT INTO call_logs (id, kind, run_id, trace_id, user_id, conversation_id, pipeline_id, model, stream,
prompt, output, usage_json, cost_usd, status, error_type, error_message, reason, attempts, duration_ns, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, string(rec.Kind), rec.RunID, rec.TraceID, rec.UserID, rec.ConversationID, rec.PipelineID,
		rec.Model, rec.Stream, prompt, output, usage, cost, string(rec.Status), rec.ErrorType,
		rec.ErrorMessage, rec.Reason, rec.Attempts, rec.Duration.Nanoseconds(), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call log: %w", err)
	}
	return nil
}

type callLogRow struct {
	ID             string          `db:"id"`
	Kind           string          `db:"kind"`
	RunID          string          `db:"run_id"`
	TraceID        string          `db:"trace_id"`
	UserID         string          `db:"user_id"`
	ConversationID string          `db:"conversation_id"`
	PipelineID     string          `db:"pipeline_id"`
	Model          string          `db:"model"`
	Stream         bool            `db:"stream"`
	Prompt         sql.NullString  `db:"prompt"`
	Output         sql.NullString  `db:"output"`
	Usage          sql.NullString  `db:"usage_json"`
	CostUSD        sql.NullFloat64 `db:"cost_usd"`
	Status         string          `db:"status"`
	ErrorType      string          `db:"error_type"`
	ErrorMessage   sql.NullString  `db:"error_message"`
	Reason         sql.NullString  `db:"reason"`
	Attempts       int             `db:"attempts"`
	DurationNS     int64           `db:"duration_ns"`
	CreatedAt      time.Time       `db:"created_at"`
}

// ListCallLogs returns the most recent records, newest first. A limit of
// zero or less returns every record.
func (s *Store) ListCallLogs(ctx context.Context, limit int) ([]*domain.CallLog, error) {
	query := `SELECT id, kind, run_id, trace_id, user_id, conversation_id, pipeline_id, model, stream,
prompt, output, usage_json, cost_usd, status, error_type, error_message, reason, attempts, duration_ns, created_at
FROM call_logs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []callLogRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list call logs: %w", err)
	}

	logs := make([]*domain.CallLog, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toCallLog()
		if err != nil {
			return nil, err
		}
		logs = append(logs, rec)
	}
	return logs, nil
}

func (r callLogRow) toCallLog() (*domain.CallLog, error) {
	rec := &domain.CallLog{
		ID:             r.ID,
		Kind:           domain.CallKind(r.Kind),
		RunID:          r.RunID,
		TraceID:        r.TraceID,
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		PipelineID:     r.PipelineID,
		Model:          r.Model,
		Stream:         r.Stream,
		Status:         domain.CallStatus(r.Status),
		ErrorType:      r.ErrorType,
		ErrorMessage:   r.ErrorMessage.String,
		Reason:         r.Reason.String,
		Attempts:       r.Attempts,
		Duration:       time.Duration(r.DurationNS),
		CreatedAt:      r.CreatedAt,
	}
	if r.Prompt.Valid {
		if err := json.Unmarshal([]byte(r.Prompt.String), &rec.Prompt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prompt for %s: %w", r.ID, err)
		}
	}
	if r.Output.Valid {
		if err := json.Unmarshal([]byte(r.Output.String), &rec.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output for %s: %w", r.ID, err)
		}
	}
	if r.Usage.Valid {
		rec.Usage = &domain.Usage{}
		if err := json.Unmarshal([]byte(r.Usage.String), rec.Usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage for %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalNullable(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
