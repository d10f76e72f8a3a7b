package repo

import (
	"context"
	"database/sql"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// LayerRepo accesses layer rows.
type LayerRepo struct {
	q store.Querier
}

const layerColumns = `id, tenant_id, parent_id, mount_id, name, description, is_working,
	created_at, file_count, total_bytes, status, read_only`

// Create inserts a layer row.
func (r *LayerRepo) Create(ctx context.Context, l *types.Layer) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO layers
			(id, tenant_id, parent_id, mount_id, name, description, is_working, created_at, status, read_only)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.TenantID.String(), uuidArg(l.ParentID), uuidArg(l.MountID),
		l.Name, l.Description, l.IsWorking, l.CreatedAt, string(l.Status), l.ReadOnly)
	return store.MapError(err)
}

// Get fetches one layer.
func (r *LayerRepo) Get(ctx context.Context, id types.LayerID) (*types.Layer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+layerColumns+` FROM layers WHERE id = ?`, id.String())
	return scanLayerFrom(row)
}

// GetByName fetches a mount's layer by its human name.
func (r *LayerRepo) GetByName(ctx context.Context, mount types.MountID, name string) (*types.Layer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+layerColumns+` FROM layers WHERE mount_id = ? AND name = ?`,
		mount.String(), name)
	return scanLayerFrom(row)
}

// GetWorking fetches the mount's working layer.
func (r *LayerRepo) GetWorking(ctx context.Context, mount types.MountID) (*types.Layer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+layerColumns+` FROM layers WHERE mount_id = ? AND is_working = 1`,
		mount.String())
	return scanLayerFrom(row)
}

// ListByMount returns every layer attached to a mount, unordered; the chain
// manager orders them by walking parent links.
func (r *LayerRepo) ListByMount(ctx context.Context, mount types.MountID) ([]types.Layer, error) {
	return r.list(ctx, `SELECT `+layerColumns+` FROM layers WHERE mount_id = ?`, mount.String())
}

// ListByTenant returns every layer a tenant owns.
func (r *LayerRepo) ListByTenant(ctx context.Context, tenant types.TenantID) ([]types.Layer, error) {
	return r.list(ctx, `SELECT `+layerColumns+` FROM layers WHERE tenant_id = ?`, tenant.String())
}

// Children returns the direct child layers of a layer.
func (r *LayerRepo) Children(ctx context.Context, id types.LayerID) ([]types.Layer, error) {
	return r.list(ctx, `SELECT `+layerColumns+` FROM layers WHERE parent_id = ?`, id.String())
}

func (r *LayerRepo) list(ctx context.Context, query string, args ...interface{}) ([]types.Layer, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.Layer
	for rows.Next() {
		l, err := scanLayerFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, store.MapError(rows.Err())
}

// SetWorking flips the is_working flag of one layer.
func (r *LayerRepo) SetWorking(ctx context.Context, id types.LayerID, working bool) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE layers SET is_working = ? WHERE id = ?`, working, id.String())
	return store.MapError(err)
}

// SetReadOnly flips the read-only flag of one layer.
func (r *LayerRepo) SetReadOnly(ctx context.Context, id types.LayerID, readOnly bool) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE layers SET read_only = ? WHERE id = ?`, readOnly, id.String())
	return store.MapError(err)
}

// Rename sets the name and description of a layer.
func (r *LayerRepo) Rename(ctx context.Context, id types.LayerID, name, description string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE layers SET name = ?, description = ? WHERE id = ?`,
		name, description, id.String())
	return store.MapError(err)
}

// SetStatus moves a layer through its lifecycle.
func (r *LayerRepo) SetStatus(ctx context.Context, id types.LayerID, status types.LayerStatus) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE layers SET status = ? WHERE id = ?`, string(status), id.String())
	return store.MapError(err)
}

// Delete removes a layer. The parent reference of any child is ON DELETE
// RESTRICT, so deleting a layer that still has children fails in the store;
// the chain manager checks first for a cleaner error.
func (r *LayerRepo) Delete(ctx context.Context, id types.LayerID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM layers WHERE id = ?`, id.String())
	if err != nil {
		return store.MapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.KindNotFound, "layer %s does not exist", id)
	}
	return nil
}

func scanLayerFrom(s rowScanner) (*types.Layer, error) {
	var l types.Layer
	var id, tenant, status string
	var parent, mount sql.NullString
	err := s.Scan(&id, &tenant, &parent, &mount, &l.Name, &l.Description, &l.IsWorking,
		&l.CreatedAt, &l.FileCount, &l.TotalBytes, &status, &l.ReadOnly)
	if err != nil {
		return nil, store.MapError(err)
	}
	lid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}
	tid, err := parseUUID(tenant)
	if err != nil {
		return nil, err
	}
	l.ID = lid
	l.TenantID = tid
	if l.ParentID, err = nullableUUID(parent); err != nil {
		return nil, errors.Wrap(errors.KindOther, "corrupt parent id", err)
	}
	if l.MountID, err = nullableUUID(mount); err != nil {
		return nil, errors.Wrap(errors.KindOther, "corrupt mount id", err)
	}
	l.Status = types.LayerStatus(status)
	return &l, nil
}
