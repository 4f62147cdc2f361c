// Package dialect abstracts the SQL differences between supported databases.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect describes one SQL database flavor.
type Dialect interface {
	// Name returns the dialect name.
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's placeholder style.
	Rebind(query string) string

	// KeyType is the column type of a string primary key.
	KeyType() string

	BooleanType() string
	TimestampType() string
	TextType() string
	FloatType() string

	// PragmaStatements run once after the connection is opened.
	PragmaStatements() []string
}

// DialectType identifies a dialect.
type DialectType string

const (
	SQLite DialectType = "sqlite"
	MySQL  DialectType = "mysql"
)

// New returns the dialect for dialectType.
func New(dialectType DialectType) (Dialect, error) {
	switch dialectType {
	case SQLite:
		return &sqliteDialect{}, nil
	case MySQL:
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialectType)
	}
}

// FromDriverName maps a configured driver name to its dialect.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "mysql":
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string               { return "sqlite" }
func (d *sqliteDialect) DriverName() string         { return "sqlite" }
func (d *sqliteDialect) Rebind(query string) string { return query }
func (d *sqliteDialect) KeyType() string            { return "TEXT" }
func (d *sqliteDialect) BooleanType() string        { return "INTEGER" }
func (d *sqliteDialect) TimestampType() string      { return "TIMESTAMP" }
func (d *sqliteDialect) TextType() string           { return "TEXT" }
func (d *sqliteDialect) FloatType() string          { return "REAL" }

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
}

type mysqlDialect struct{}

func (d *mysqlDialect) Name() string               { return "mysql" }
func (d *mysqlDialect) DriverName() string         { return "mysql" }
func (d *mysqlDialect) Rebind(query string) string { return query }
func (d *mysqlDialect) KeyType() string            { return "VARCHAR(64)" }
func (d *mysqlDialect) BooleanType() string        { return "TINYINT(1)" }
func (d *mysqlDialect) TimestampType() string      { return "DATETIME(6)" }
func (d *mysqlDialect) TextType() string           { return "LONGTEXT" }
func (d *mysqlDialect) FloatType() string          { return "DOUBLE" }
func (d *mysqlDialect) PragmaStatements() []string { return nil }
