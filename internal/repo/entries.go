package repo

import (
	"context"
	"database/sql"
	"path"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/types"
)

// LayerEntryRepo accesses the per-layer changelog. Entries are keyed by
// (layer, path); the upsert keeps repeated writes in one layer to a single
// entry.
type LayerEntryRepo struct {
	q store.Querier
}

// Upsert records or overwrites the layer's entry for a path.
func (r *LayerEntryRepo) Upsert(ctx context.Context, e *types.LayerEntry) error {
	var added, deleted, modified interface{}
	if e.TextDiff != nil {
		added, deleted, modified = e.TextDiff.LinesAdded, e.TextDiff.LinesDeleted, e.TextDiff.LinesModified
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO layer_entries
			(layer_id, path, inode_id, change_kind, size_delta, lines_added, lines_deleted, lines_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (layer_id, path) DO UPDATE SET
			inode_id = excluded.inode_id,
			change_kind = excluded.change_kind,
			size_delta = excluded.size_delta,
			lines_added = excluded.lines_added,
			lines_deleted = excluded.lines_deleted,
			lines_modified = excluded.lines_modified`,
		e.LayerID.String(), e.Path, e.InodeID, string(e.ChangeKind), e.SizeDelta,
		added, deleted, modified)
	return store.MapError(err)
}

// Get fetches the layer's entry for a path, or NotFound.
func (r *LayerEntryRepo) Get(ctx context.Context, layer types.LayerID, p string) (*types.LayerEntry, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT layer_id, path, inode_id, change_kind, size_delta, lines_added, lines_deleted, lines_modified
		 FROM layer_entries WHERE layer_id = ? AND path = ?`,
		layer.String(), p)
	return scanEntryFrom(row)
}

// ListByLayer returns every entry of a layer ordered by path.
func (r *LayerEntryRepo) ListByLayer(ctx context.Context, layer types.LayerID) ([]types.LayerEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT layer_id, path, inode_id, change_kind, size_delta, lines_added, lines_deleted, lines_modified
		 FROM layer_entries WHERE layer_id = ? ORDER BY path`,
		layer.String())
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.LayerEntry
	for rows.Next() {
		e, err := scanEntryFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, store.MapError(rows.Err())
}

// ListChildrenInLayer returns the layer's entries whose path is a direct child
// of dir.
func (r *LayerEntryRepo) ListChildrenInLayer(ctx context.Context, layer types.LayerID, dir string) ([]types.LayerEntry, error) {
	all, err := r.ListByLayer(ctx, layer)
	if err != nil {
		return nil, err
	}
	var out []types.LayerEntry
	for _, e := range all {
		if path.Dir(e.Path) == dir && e.Path != dir {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count reports the number of entries in a layer.
func (r *LayerEntryRepo) Count(ctx context.Context, layer types.LayerID) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM layer_entries WHERE layer_id = ?`, layer.String()).Scan(&n)
	return n, store.MapError(err)
}

// Delete removes the layer's entry for a path, if any.
func (r *LayerEntryRepo) Delete(ctx context.Context, layer types.LayerID, p string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM layer_entries WHERE layer_id = ? AND path = ?`,
		layer.String(), p)
	return store.MapError(err)
}

func scanEntryFrom(s rowScanner) (*types.LayerEntry, error) {
	var e types.LayerEntry
	var layer, kind string
	var added, deleted, modified sql.NullInt64
	err := s.Scan(&layer, &e.Path, &e.InodeID, &kind, &e.SizeDelta, &added, &deleted, &modified)
	if err != nil {
		return nil, store.MapError(err)
	}
	lid, err := parseUUID(layer)
	if err != nil {
		return nil, err
	}
	e.LayerID = lid
	e.ChangeKind = types.ChangeKind(kind)
	if added.Valid || deleted.Valid || modified.Valid {
		e.TextDiff = &types.TextDiff{
			LinesAdded:    int(added.Int64),
			LinesDeleted:  int(deleted.Int64),
			LinesModified: int(modified.Int64),
		}
	}
	return &e, nil
}
