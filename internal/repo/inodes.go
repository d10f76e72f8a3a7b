package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// InodeRepo accesses inode rows. Inode ids are per-tenant serials allocated
// with NextID inside the caller's transaction.
type InodeRepo struct {
	q store.Querier
}

const inodeColumns = `tenant_id, id, parent_id, name, kind, mode, uid, gid, size, atime, mtime, ctime`

// NextID allocates the next per-tenant serial inode id by bumping the
// tenant's counter row in one atomic statement. Concurrent transactions
// creating inodes at different paths serialize on the counter update instead
// of reading the same high-water mark, so the allocated ids never collide.
func (r *InodeRepo) NextID(ctx context.Context, tenant types.TenantID) (types.InodeID, error) {
	var next int64
	err := r.q.QueryRowContext(ctx,
		`UPDATE tenants SET next_inode_id = next_inode_id + 1
		 WHERE id = ? RETURNING next_inode_id - 1`,
		tenant.String()).Scan(&next)
	if err != nil {
		return 0, store.MapError(err)
	}
	return next, nil
}

// Create inserts an inode row.
func (r *InodeRepo) Create(ctx context.Context, ino *types.Inode) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO inodes (`+inodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ino.TenantID.String(), ino.ID, inodeArg(ino.ParentID), ino.Name, string(ino.Kind),
		ino.Mode, ino.UID, ino.GID, ino.Size, ino.Atime, ino.Mtime, ino.Ctime)
	return store.MapError(err)
}

// Get fetches one inode.
func (r *InodeRepo) Get(ctx context.Context, tenant types.TenantID, id types.InodeID) (*types.Inode, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id)
	return scanInode(row)
}

// GetChild fetches the inode named name under parent.
func (r *InodeRepo) GetChild(ctx context.Context, tenant types.TenantID, parent types.InodeID, name string) (*types.Inode, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE tenant_id = ? AND parent_id = ? AND name = ?`,
		tenant.String(), parent, name)
	return scanInode(row)
}

// ListChildren enumerates the attached children of a directory inode.
func (r *InodeRepo) ListChildren(ctx context.Context, tenant types.TenantID, parent types.InodeID) ([]types.Inode, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE tenant_id = ? AND parent_id = ? ORDER BY name`,
		tenant.String(), parent)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.Inode
	for rows.Next() {
		ino, err := scanInodeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ino)
	}
	return out, store.MapError(rows.Err())
}

// CountChildren reports how many attached children a directory has.
func (r *InodeRepo) CountChildren(ctx context.Context, tenant types.TenantID, parent types.InodeID) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inodes WHERE tenant_id = ? AND parent_id = ?`,
		tenant.String(), parent).Scan(&n)
	return n, store.MapError(err)
}

// UpdateSize sets the size and modification time after a content write.
func (r *InodeRepo) UpdateSize(ctx context.Context, tenant types.TenantID, id types.InodeID, size int64, mtime time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE inodes SET size = ?, mtime = ?, ctime = ? WHERE tenant_id = ? AND id = ?`,
		size, mtime, mtime, tenant.String(), id)
	return store.MapError(err)
}

// SetAttr applies the populated fields of a set-attributes request.
func (r *InodeRepo) SetAttr(ctx context.Context, tenant types.TenantID, id types.InodeID, req types.SetAttrRequest) error {
	ino, err := r.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	if req.Mode != nil {
		ino.Mode = *req.Mode
	}
	if req.UID != nil {
		ino.UID = *req.UID
	}
	if req.GID != nil {
		ino.GID = *req.GID
	}
	if req.Size != nil {
		ino.Size = *req.Size
	}
	if req.Atime != nil {
		ino.Atime = *req.Atime
	}
	if req.Mtime != nil {
		ino.Mtime = *req.Mtime
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE inodes SET mode = ?, uid = ?, gid = ?, size = ?, atime = ?, mtime = ?, ctime = ?
		 WHERE tenant_id = ? AND id = ?`,
		ino.Mode, ino.UID, ino.GID, ino.Size, ino.Atime, ino.Mtime, time.Now().UTC(),
		tenant.String(), id)
	return store.MapError(err)
}

// Detach clears the parent link of an inode that frozen layers still
// reference; the path becomes free for re-creation while historical text
// reads keep working.
func (r *InodeRepo) Detach(ctx context.Context, tenant types.TenantID, id types.InodeID) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE inodes SET parent_id = NULL WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id)
	return store.MapError(err)
}

// Delete removes an inode; children and data cascade.
func (r *InodeRepo) Delete(ctx context.Context, tenant types.TenantID, id types.InodeID) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM inodes WHERE tenant_id = ? AND id = ?`, tenant.String(), id)
	if err != nil {
		return store.MapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.KindNotFound, "inode %d does not exist", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInodeFrom(s rowScanner) (*types.Inode, error) {
	var ino types.Inode
	var tenant string
	var parent sql.NullInt64
	var kind string
	err := s.Scan(&tenant, &ino.ID, &parent, &ino.Name, &kind,
		&ino.Mode, &ino.UID, &ino.GID, &ino.Size, &ino.Atime, &ino.Mtime, &ino.Ctime)
	if err != nil {
		return nil, store.MapError(err)
	}
	tid, err := parseUUID(tenant)
	if err != nil {
		return nil, err
	}
	ino.TenantID = tid
	ino.ParentID = nullableInode(parent)
	ino.Kind = types.FileKind(kind)
	return &ino, nil
}

func scanInode(row *sql.Row) (*types.Inode, error)      { return scanInodeFrom(row) }
func scanInodeRows(rows *sql.Rows) (*types.Inode, error) { return scanInodeFrom(rows) }
