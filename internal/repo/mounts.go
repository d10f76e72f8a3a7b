package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// MountRepo accesses mount entry rows.
type MountRepo struct {
	q store.Querier
}

const mountColumns = `id, tenant_id, name, virtual_path, is_file, source_kind,
	host_path, source_mount_id, source_layer_id, source_subpath, publication_name,
	access_mode, enabled, working_layer_id, metadata`

// Create inserts a mount entry.
func (r *MountRepo) Create(ctx context.Context, m *types.MountEntry) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return errors.Wrap(errors.KindInvalidArgument, "mount metadata", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO mount_entries (`+mountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.TenantID.String(), m.Name, m.VirtualPath, m.IsFile, string(m.SourceKind),
		nullString(m.HostPath), uuidArg(m.SourceMountID), uuidArg(m.SourceLayerID),
		nullString(m.SourceSubpath), nullString(m.PublicationName),
		string(m.AccessMode), m.Enabled, uuidArg(m.WorkingLayerID), string(meta))
	return store.MapError(err)
}

// Get fetches one mount entry.
func (r *MountRepo) Get(ctx context.Context, id types.MountID) (*types.MountEntry, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+mountColumns+` FROM mount_entries WHERE id = ?`, id.String())
	return scanMountFrom(row)
}

// GetByName fetches a tenant's mount entry by name.
func (r *MountRepo) GetByName(ctx context.Context, tenant types.TenantID, name string) (*types.MountEntry, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+mountColumns+` FROM mount_entries WHERE tenant_id = ? AND name = ?`,
		tenant.String(), name)
	return scanMountFrom(row)
}

// ListByTenant returns all of a tenant's mount entries ordered by virtual path.
func (r *MountRepo) ListByTenant(ctx context.Context, tenant types.TenantID) ([]types.MountEntry, error) {
	return r.list(ctx,
		`SELECT `+mountColumns+` FROM mount_entries WHERE tenant_id = ? ORDER BY virtual_path`,
		tenant.String())
}

// ListEnabled returns the tenant's enabled entries ordered by virtual path.
func (r *MountRepo) ListEnabled(ctx context.Context, tenant types.TenantID) ([]types.MountEntry, error) {
	return r.list(ctx,
		`SELECT `+mountColumns+` FROM mount_entries WHERE tenant_id = ? AND enabled = 1 ORDER BY virtual_path`,
		tenant.String())
}

func (r *MountRepo) list(ctx context.Context, query string, args ...interface{}) ([]types.MountEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.MountEntry
	for rows.Next() {
		m, err := scanMountFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, store.MapError(rows.Err())
}

// SetWorkingLayer records the mount's current working layer id.
func (r *MountRepo) SetWorkingLayer(ctx context.Context, id types.MountID, layer types.LayerID) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE mount_entries SET working_layer_id = ? WHERE id = ?`,
		layer.String(), id.String())
	return store.MapError(err)
}

// Delete removes one mount entry.
func (r *MountRepo) Delete(ctx context.Context, id types.MountID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM mount_entries WHERE id = ?`, id.String())
	if err != nil {
		return store.MapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.KindNotFound, "mount %s does not exist", id)
	}
	return nil
}

// DeleteAllForTenant removes every mount entry of a tenant; used by the atomic
// set-replace.
func (r *MountRepo) DeleteAllForTenant(ctx context.Context, tenant types.TenantID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM mount_entries WHERE tenant_id = ?`, tenant.String())
	return store.MapError(err)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanMountFrom(s rowScanner) (*types.MountEntry, error) {
	var m types.MountEntry
	var id, tenant, kind, mode, meta string
	var hostPath, srcMount, srcLayer, srcSub, pubName, working sql.NullString
	err := s.Scan(&id, &tenant, &m.Name, &m.VirtualPath, &m.IsFile, &kind,
		&hostPath, &srcMount, &srcLayer, &srcSub, &pubName,
		&mode, &m.Enabled, &working, &meta)
	if err != nil {
		return nil, store.MapError(err)
	}

	mid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}
	tid, err := parseUUID(tenant)
	if err != nil {
		return nil, err
	}
	m.ID = mid
	m.TenantID = tid
	m.SourceKind = types.SourceKind(kind)
	m.AccessMode = types.AccessMode(mode)
	m.HostPath = hostPath.String
	m.SourceSubpath = srcSub.String
	m.PublicationName = pubName.String
	if m.SourceMountID, err = nullableUUID(srcMount); err != nil {
		return nil, errors.Wrap(errors.KindOther, "corrupt source mount id", err)
	}
	if m.SourceLayerID, err = nullableUUID(srcLayer); err != nil {
		return nil, errors.Wrap(errors.KindOther, "corrupt source layer id", err)
	}
	if m.WorkingLayerID, err = nullableUUID(working); err != nil {
		return nil, errors.Wrap(errors.KindOther, "corrupt working layer id", err)
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, errors.Wrap(errors.KindOther, "corrupt mount metadata", err)
		}
	}
	return &m, nil
}
