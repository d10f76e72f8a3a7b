package repo

import (
	"context"
	"time"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/types"
)

// TextBlockRepo accesses the content-addressed text block store. The store is
// global (not tenant-scoped): identical lines share one row across tenants.
type TextBlockRepo struct {
	q store.Querier
}

// GetOrCreate returns the id of the block with the given hash, inserting it on
// a miss. Reference counts are maintained by line-map triggers, not here.
func (r *TextBlockRepo) GetOrCreate(ctx context.Context, hash, payload string, lineCount int, encoding types.Encoding) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT id FROM text_blocks WHERE hash = ?`, hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !mappedIsNotFound(store.MapError(err)) {
		return 0, store.MapError(err)
	}

	res, err := r.q.ExecContext(ctx,
		`INSERT INTO text_blocks (hash, payload, line_count, byte_size, encoding)
		 VALUES (?, ?, ?, ?, ?)`,
		hash, payload, lineCount, int64(len(payload)), string(encoding))
	if err != nil {
		return 0, store.MapError(err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, store.MapError(err)
	}
	return id, nil
}

// Get fetches one block by id.
func (r *TextBlockRepo) Get(ctx context.Context, id int64) (*types.TextBlock, error) {
	var b types.TextBlock
	var enc string
	err := r.q.QueryRowContext(ctx,
		`SELECT id, hash, payload, line_count, byte_size, encoding, ref_count, last_access
		 FROM text_blocks WHERE id = ?`, id).
		Scan(&b.ID, &b.Hash, &b.Payload, &b.LineCount, &b.ByteSize, &enc, &b.RefCount, &b.LastAccess)
	if err != nil {
		return nil, store.MapError(err)
	}
	b.Encoding = types.Encoding(enc)
	return &b, nil
}

// GetByHash fetches one block by content hash.
func (r *TextBlockRepo) GetByHash(ctx context.Context, hash string) (*types.TextBlock, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT id FROM text_blocks WHERE hash = ?`, hash).Scan(&id)
	if err != nil {
		return nil, store.MapError(err)
	}
	return r.Get(ctx, id)
}

// Touch refreshes the last-access timestamp of a set of blocks on read.
func (r *TextBlockRepo) Touch(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := r.q.ExecContext(ctx,
			`UPDATE text_blocks SET last_access = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return store.MapError(err)
		}
	}
	return nil
}

// SweepExpired deletes blocks with zero references whose last access is older
// than the cutoff. Returns the number of deleted rows.
func (r *TextBlockRepo) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	// The cutoff is compared as text against CURRENT_TIMESTAMP values, so it
	// uses the same second-precision UTC form.
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM text_blocks WHERE ref_count <= 0 AND last_access < ?`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, store.MapError(err)
	}
	n, err := res.RowsAffected()
	return n, store.MapError(err)
}

// Count reports the number of stored text blocks.
func (r *TextBlockRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM text_blocks`).Scan(&n)
	return n, store.MapError(err)
}
