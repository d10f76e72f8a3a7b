package repo

import (
	"context"
	"database/sql"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// PublicationRepo accesses published mounts and their allow lists. The
// publication name is the one global (cross-tenant) key in the system.
type PublicationRepo struct {
	q store.Querier
}

const publicationColumns = `id, tenant_id, mount_entry_id, name, description, target_kind, layer_id, scope, created_at`

// Create inserts a publication and its allow list.
func (r *PublicationRepo) Create(ctx context.Context, p *types.PublishedMount) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO published_mounts (`+publicationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.TenantID.String(), p.MountEntryID.String(), p.Name, p.Description,
		string(p.Target), uuidArg(p.PinnedLayerID), string(p.Scope), p.CreatedAt)
	if err != nil {
		return store.MapError(err)
	}
	for _, t := range p.AllowedTenants {
		if err := r.AddAllowedTenant(ctx, p.ID, t); err != nil {
			return err
		}
	}
	return nil
}

// GetByName fetches a publication by its global name, allow list included.
func (r *PublicationRepo) GetByName(ctx context.Context, name string) (*types.PublishedMount, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM published_mounts WHERE name = ?`, name)
	return r.scanWithAllowList(ctx, row)
}

// GetByMount fetches the publication backing a mount entry, if any.
func (r *PublicationRepo) GetByMount(ctx context.Context, mount types.MountID) (*types.PublishedMount, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM published_mounts WHERE mount_entry_id = ?`, mount.String())
	return r.scanWithAllowList(ctx, row)
}

// ListFilter narrows List results.
type ListFilter struct {
	Owner *types.TenantID
	Scope *types.PublicationScope
}

// List enumerates publications, optionally filtered by owner and scope.
func (r *PublicationRepo) List(ctx context.Context, f ListFilter) ([]types.PublishedMount, error) {
	query := `SELECT ` + publicationColumns + ` FROM published_mounts WHERE 1=1`
	var args []interface{}
	if f.Owner != nil {
		query += ` AND tenant_id = ?`
		args = append(args, f.Owner.String())
	}
	if f.Scope != nil {
		query += ` AND scope = ?`
		args = append(args, string(*f.Scope))
	}
	query += ` ORDER BY name`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.PublishedMount
	for rows.Next() {
		p, err := scanPublicationFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.MapError(err)
	}
	for i := range out {
		allowed, err := r.AllowedTenants(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].AllowedTenants = allowed
	}
	return out, nil
}

// Update rewrites the mutable publication fields (description, scope).
func (r *PublicationRepo) Update(ctx context.Context, id types.PublicationID, description string, scope types.PublicationScope) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE published_mounts SET description = ?, scope = ? WHERE id = ?`,
		description, string(scope), id.String())
	return store.MapError(err)
}

// Delete removes a publication; the allow list cascades.
func (r *PublicationRepo) Delete(ctx context.Context, id types.PublicationID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM published_mounts WHERE id = ?`, id.String())
	if err != nil {
		return store.MapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.KindNotFound, "publication %s does not exist", id)
	}
	return nil
}

// AddAllowedTenant grants a tenant access under an allow-list scope.
func (r *PublicationRepo) AddAllowedTenant(ctx context.Context, id types.PublicationID, tenant types.TenantID) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO publication_allowed_tenants (publication_id, tenant_id) VALUES (?, ?)`,
		id.String(), tenant.String())
	return store.MapError(err)
}

// RemoveAllowedTenant revokes a tenant; the revocation affects all subsequent
// accesses.
func (r *PublicationRepo) RemoveAllowedTenant(ctx context.Context, id types.PublicationID, tenant types.TenantID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM publication_allowed_tenants WHERE publication_id = ? AND tenant_id = ?`,
		id.String(), tenant.String())
	return store.MapError(err)
}

// AllowedTenants returns the allow list of a publication.
func (r *PublicationRepo) AllowedTenants(ctx context.Context, id types.PublicationID) ([]types.TenantID, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT tenant_id FROM publication_allowed_tenants WHERE publication_id = ? ORDER BY tenant_id`,
		id.String())
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.TenantID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, store.MapError(err)
		}
		id, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, store.MapError(rows.Err())
}

func (r *PublicationRepo) scanWithAllowList(ctx context.Context, row *sql.Row) (*types.PublishedMount, error) {
	p, err := scanPublicationFrom(row)
	if err != nil {
		return nil, err
	}
	if p.AllowedTenants, err = r.AllowedTenants(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func scanPublicationFrom(s rowScanner) (*types.PublishedMount, error) {
	var p types.PublishedMount
	var id, tenant, mount, target, scope string
	var layer sql.NullString
	err := s.Scan(&id, &tenant, &mount, &p.Name, &p.Description, &target, &layer, &scope, &p.CreatedAt)
	if err != nil {
		return nil, store.MapError(err)
	}
	pid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}
	tid, err := parseUUID(tenant)
	if err != nil {
		return nil, err
	}
	mid, err := parseUUID(mount)
	if err != nil {
		return nil, err
	}
	p.ID = pid
	p.TenantID = tid
	p.MountEntryID = mid
	p.Target = types.PublicationTarget(target)
	p.Scope = types.PublicationScope(scope)
	if p.PinnedLayerID, err = nullableUUID(layer); err != nil {
		return nil, errors.Wrap(errors.KindOther, "corrupt pinned layer id", err)
	}
	return &p, nil
}
