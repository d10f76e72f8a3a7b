package repo

import (
	"context"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/types"
)

// TextFileRepo accesses text file metadata and the text line map. Both are
// keyed per (tenant, inode, layer); the presence of a metadata row decides
// which storage family reconstructs the file in that layer.
type TextFileRepo struct {
	q store.Querier
}

// PutMeta inserts the metadata row for one layer's text representation.
func (r *TextFileRepo) PutMeta(ctx context.Context, m *types.TextFileMeta) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO text_file_meta
			(tenant_id, inode_id, layer_id, total_lines, encoding, line_ending, trailing_newline)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.TenantID.String(), m.InodeID, m.LayerID.String(),
		m.TotalLines, string(m.Encoding), string(m.LineEnding), m.TrailingNewline)
	return store.MapError(err)
}

// GetMeta fetches the metadata row, or a NotFound error when the layer holds
// no text representation for the inode.
func (r *TextFileRepo) GetMeta(ctx context.Context, tenant types.TenantID, inode types.InodeID, layer types.LayerID) (*types.TextFileMeta, error) {
	m := types.TextFileMeta{TenantID: tenant, InodeID: inode, LayerID: layer}
	var enc, le string
	err := r.q.QueryRowContext(ctx,
		`SELECT total_lines, encoding, line_ending, trailing_newline
		 FROM text_file_meta WHERE tenant_id = ? AND inode_id = ? AND layer_id = ?`,
		tenant.String(), inode, layer.String()).
		Scan(&m.TotalLines, &enc, &le, &m.TrailingNewline)
	if err != nil {
		return nil, store.MapError(err)
	}
	m.Encoding = types.Encoding(enc)
	m.LineEnding = types.LineEnding(le)
	return &m, nil
}

// DeleteFor removes the metadata and line map of one (inode, layer). The line
// map delete fires the refcount triggers.
func (r *TextFileRepo) DeleteFor(ctx context.Context, tenant types.TenantID, inode types.InodeID, layer types.LayerID) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM text_line_map WHERE tenant_id = ? AND inode_id = ? AND layer_id = ?`,
		tenant.String(), inode, layer.String()); err != nil {
		return store.MapError(err)
	}
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM text_file_meta WHERE tenant_id = ? AND inode_id = ? AND layer_id = ?`,
		tenant.String(), inode, layer.String())
	return store.MapError(err)
}

// PutLine inserts one line-map row.
func (r *TextFileRepo) PutLine(ctx context.Context, tenant types.TenantID, inode types.InodeID, layer types.LayerID, lineNo int, blockID int64, offset int) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO text_line_map (tenant_id, inode_id, layer_id, line_no, block_id, block_offset)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenant.String(), inode, layer.String(), lineNo, blockID, offset)
	return store.MapError(err)
}

// LineRef is one resolved line of a layer's text representation.
type LineRef struct {
	LineNo  int
	BlockID int64
	Offset  int
	Payload string
}

// Lines returns the layer's lines in order, joined with their block payloads.
func (r *TextFileRepo) Lines(ctx context.Context, tenant types.TenantID, inode types.InodeID, layer types.LayerID) ([]LineRef, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT m.line_no, m.block_id, m.block_offset, b.payload
		 FROM text_line_map m JOIN text_blocks b ON b.id = m.block_id
		 WHERE m.tenant_id = ? AND m.inode_id = ? AND m.layer_id = ?
		 ORDER BY m.line_no`,
		tenant.String(), inode, layer.String())
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []LineRef
	for rows.Next() {
		var l LineRef
		if err := rows.Scan(&l.LineNo, &l.BlockID, &l.Offset, &l.Payload); err != nil {
			return nil, store.MapError(err)
		}
		out = append(out, l)
	}
	return out, store.MapError(rows.Err())
}
