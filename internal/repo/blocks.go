package repo

import (
	"context"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/types"
)

// DataBlockRepo accesses binary data block rows. Blocks are written
// per-(inode, block_index) and deduplicated by hash at query time.
type DataBlockRepo struct {
	q store.Querier
}

// ReplaceAll deletes the inode's blocks and inserts the new sequence. The
// block index is contiguous from 0 by construction of the caller's split.
func (r *DataBlockRepo) ReplaceAll(ctx context.Context, tenant types.TenantID, inode types.InodeID, blocks []types.DataBlock) error {
	if err := r.DeleteAll(ctx, tenant, inode); err != nil {
		return err
	}
	for _, b := range blocks {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO data_blocks (tenant_id, inode_id, block_index, payload, size, hash)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tenant.String(), inode, b.BlockIndex, b.Payload, b.Size, b.Hash)
		if err != nil {
			return store.MapError(err)
		}
	}
	return nil
}

// ListByInode returns the inode's blocks ordered by index.
func (r *DataBlockRepo) ListByInode(ctx context.Context, tenant types.TenantID, inode types.InodeID) ([]types.DataBlock, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT block_index, payload, size, hash FROM data_blocks
		 WHERE tenant_id = ? AND inode_id = ? ORDER BY block_index`,
		tenant.String(), inode)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.DataBlock
	for rows.Next() {
		b := types.DataBlock{TenantID: tenant, InodeID: inode}
		if err := rows.Scan(&b.BlockIndex, &b.Payload, &b.Size, &b.Hash); err != nil {
			return nil, store.MapError(err)
		}
		out = append(out, b)
	}
	return out, store.MapError(rows.Err())
}

// Count reports how many blocks the inode owns.
func (r *DataBlockRepo) Count(ctx context.Context, tenant types.TenantID, inode types.InodeID) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM data_blocks WHERE tenant_id = ? AND inode_id = ?`,
		tenant.String(), inode).Scan(&n)
	return n, store.MapError(err)
}

// FindByHash reports whether any block row carries the given content hash,
// used for query-time deduplication checks.
func (r *DataBlockRepo) FindByHash(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx,
		`SELECT 1 FROM data_blocks WHERE hash = ? LIMIT 1`, hash).Scan(&one)
	if err != nil {
		mapped := store.MapError(err)
		if mappedIsNotFound(mapped) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// DeleteAll removes every block of an inode.
func (r *DataBlockRepo) DeleteAll(ctx context.Context, tenant types.TenantID, inode types.InodeID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM data_blocks WHERE tenant_id = ? AND inode_id = ?`,
		tenant.String(), inode)
	return store.MapError(err)
}
