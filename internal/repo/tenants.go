package repo

import (
	"context"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// TenantRepo accesses tenant rows.
type TenantRepo struct {
	q store.Querier
}

// Create inserts a tenant. The root inode is attached afterwards with
// SetRootInode because the two rows reference each other.
func (r *TenantRepo) Create(ctx context.Context, t *types.Tenant) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`,
		t.ID.String(), t.Name, t.CreatedAt)
	return store.MapError(err)
}

// SetRootInode records the tenant's root directory inode.
func (r *TenantRepo) SetRootInode(ctx context.Context, id types.TenantID, root types.InodeID) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE tenants SET root_inode_id = ? WHERE id = ?`, root, id.String())
	return store.MapError(err)
}

// GetByID fetches one tenant.
func (r *TenantRepo) GetByID(ctx context.Context, id types.TenantID) (*types.Tenant, error) {
	return r.get(ctx, `SELECT id, name, COALESCE(root_inode_id, 0), created_at FROM tenants WHERE id = ?`, id.String())
}

// GetByName fetches one tenant by its unique human name.
func (r *TenantRepo) GetByName(ctx context.Context, name string) (*types.Tenant, error) {
	return r.get(ctx, `SELECT id, name, COALESCE(root_inode_id, 0), created_at FROM tenants WHERE name = ?`, name)
}

func (r *TenantRepo) get(ctx context.Context, query string, arg interface{}) (*types.Tenant, error) {
	var t types.Tenant
	var id string
	err := r.q.QueryRowContext(ctx, query, arg).Scan(&id, &t.Name, &t.RootInode, &t.CreatedAt)
	if err != nil {
		return nil, store.MapError(err)
	}
	parsed, err := parseUUID(id)
	if err != nil {
		return nil, err
	}
	t.ID = parsed
	return &t, nil
}

// List enumerates all tenants ordered by name.
func (r *TenantRepo) List(ctx context.Context) ([]types.Tenant, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, COALESCE(root_inode_id, 0), created_at FROM tenants ORDER BY name`)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.Tenant
	for rows.Next() {
		var t types.Tenant
		var id string
		if err := rows.Scan(&id, &t.Name, &t.RootInode, &t.CreatedAt); err != nil {
			return nil, store.MapError(err)
		}
		parsed, err := parseUUID(id)
		if err != nil {
			return nil, err
		}
		t.ID = parsed
		out = append(out, t)
	}
	return out, store.MapError(rows.Err())
}

// Delete removes a tenant; every dependent row cascades.
func (r *TenantRepo) Delete(ctx context.Context, id types.TenantID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id.String())
	if err != nil {
		return store.MapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.KindNotFound, "tenant %s does not exist", id)
	}
	return nil
}
