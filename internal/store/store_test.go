package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/pkg/errors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.StoreConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Migrate(context.Background()))
}

func TestMapErrorUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.sql.ExecContext(ctx, `INSERT INTO tenants (id, name) VALUES ('t1', 'acme')`)
	require.NoError(t, err)
	_, err = db.sql.ExecContext(ctx, `INSERT INTO tenants (id, name) VALUES ('t2', 'acme')`)
	require.Error(t, err)
	assert.Equal(t, errors.KindAlreadyExists, errors.KindOf(MapError(err)))
}

func TestMapErrorForeignKeyViolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO inodes (tenant_id, id, name, kind, mode) VALUES ('missing', 1, '/', 'directory', 493)`)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(MapError(err)))
}

func TestMapErrorCheckViolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.sql.ExecContext(ctx, `INSERT INTO tenants (id, name) VALUES ('t1', 'acme')`)
	require.NoError(t, err)
	_, err = db.sql.ExecContext(ctx,
		`INSERT INTO inodes (tenant_id, id, name, kind, mode) VALUES ('t1', 1, '/', 'socket', 493)`)
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(MapError(err)))
}

func TestMapErrorPassesThroughFsError(t *testing.T) {
	original := errors.NotFound("/x")
	assert.Same(t, original, MapError(original).(*errors.FsError))
	assert.NoError(t, MapError(nil))
}

func TestMapErrorNoRows(t *testing.T) {
	assert.Equal(t, errors.KindNotFound, errors.KindOf(MapError(sql.ErrNoRows)))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tenants (id, name) VALUES ('t1', 'acme')`); err != nil {
			return err
		}
		return errors.InvalidArgument("boom")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n))
	assert.Zero(t, n)
}

func TestWithTxCommits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tenants (id, name) VALUES ('t1', 'acme')`)
		return err
	}))

	var n int
	require.NoError(t, db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWithTxCanceledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tenants (id, name) VALUES ('t1', 'acme')`)
		return MapError(err)
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.sql.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM tenants`).Scan(&n))
	assert.Zero(t, n)
}
