// Package store owns the relational database: connection pooling, the embedded
// schema, transactions, and the mapping from driver errors to the filesystem
// error taxonomy. No other package touches SQL errors raw.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/pkg/log"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories are written against it so the same code runs inside and
// outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps the pooled database handle.
type DB struct {
	sql *sql.DB
}

// Open opens the database and configures the pool. Foreign keys are always
// enforced; an in-memory path pins the pool to a single connection so every
// statement sees the same database.
func Open(cfg config.StoreConfig) (*DB, error) {
	dsn := buildDSN(cfg)
	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.Path == ":memory:" {
		handle.SetMaxOpenConns(1)
	} else {
		handle.SetMaxOpenConns(cfg.MaxOpenConns)
		handle.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &DB{sql: handle}, nil
}

func buildDSN(cfg config.StoreConfig) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	if cfg.BusyTimeout > 0 {
		params.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds()))
	}
	if cfg.Path == ":memory:" {
		return "file::memory:?" + params.Encode()
	}
	params.Set("_journal_mode", "WAL")
	return "file:" + cfg.Path + "?" + params.Encode()
}

// Close releases the pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Handle exposes the raw pool for read-only queries outside a transaction.
func (d *DB) Handle() Querier {
	return d.sql
}

// WithTx runs fn in a single transaction. The transaction is rolled back on
// error, panic, or context cancellation; commit is the linearization point.
// Errors out of fn are returned as-is (fn is expected to speak FsError);
// begin/commit failures are mapped.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return MapError(err)
	}

	done := false
	defer func() {
		if !done {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger := log.WithComponent("store")
				logger.Warn().Err(rbErr).Msg("transaction rollback failed")
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return MapError(err)
	}
	done = true
	return nil
}

// Migrate creates or upgrades the schema.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	storeLogger := log.WithComponent("store")
	storeLogger.Debug().Msg("schema up to date")
	return nil
}
