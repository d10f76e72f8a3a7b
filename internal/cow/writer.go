// Package cow implements the copy-on-write writer: every write lands in the
// target mount's working layer, routed to text-line or binary-block storage by
// the file-type detector, and recorded as a layer entry.
package cow

import (
	"context"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/tarbox/tarbox/internal/content"
	"github.com/tarbox/tarbox/internal/detect"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// Writer routes writes to the storage families. It runs inside the caller's
// transaction: a failure anywhere leaves all state unchanged.
type Writer struct {
	det *detect.Detector
}

// NewWriter builds a writer over the given detector.
func NewWriter(det *detect.Detector) *Writer {
	return &Writer{det: det}
}

// Write stores newContent for (tenant, inode) in the working layer and upserts
// the layer entry for path. prev is the file's previous content when it had
// one; prevExists distinguishes an empty previous file from no file at all.
func (w *Writer) Write(ctx context.Context, r *repo.Repos, ino *types.Inode, path string,
	newContent, prev []byte, prevExists bool, layer types.LayerID) (*types.CowResult, error) {

	res := w.det.Classify(newContent)

	// Both families are cleared first so a type switch leaves no orphaned
	// representation behind.
	if err := r.TextFiles.DeleteFor(ctx, ino.TenantID, ino.ID, layer); err != nil {
		return nil, err
	}
	if err := r.DataBlocks.DeleteAll(ctx, ino.TenantID, ino.ID); err != nil {
		return nil, err
	}

	if res.IsText {
		if err := w.writeText(ctx, r, ino, newContent, res, layer); err != nil {
			return nil, err
		}
	} else {
		blocks := content.SplitBlocks(ino.TenantID, ino.ID, newContent)
		if err := r.DataBlocks.ReplaceAll(ctx, ino.TenantID, ino.ID, blocks); err != nil {
			return nil, err
		}
	}

	result := &types.CowResult{
		IsText:    res.IsText,
		SizeDelta: int64(len(newContent)) - int64(len(prev)),
	}
	if !prevExists || len(prev) == 0 {
		result.ChangeKind = types.ChangeAdd
	} else {
		result.ChangeKind = types.ChangeModify
	}
	if res.IsText && prevExists && w.det.Classify(prev).IsText {
		result.TextDiff = diffStats(prev, newContent)
	}

	entry := &types.LayerEntry{
		LayerID:    layer,
		Path:       path,
		InodeID:    ino.ID,
		ChangeKind: result.ChangeKind,
		SizeDelta:  result.SizeDelta,
		TextDiff:   result.TextDiff,
	}
	if err := r.Entries.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	if err := r.Inodes.UpdateSize(ctx, ino.TenantID, ino.ID, int64(len(newContent)), time.Now().UTC()); err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Writer) writeText(ctx context.Context, r *repo.Repos, ino *types.Inode,
	newContent []byte, res detect.Result, layer types.LayerID) error {

	lines := detect.SplitLines(newContent)
	for i, line := range lines {
		blockID, err := r.TextBlocks.GetOrCreate(ctx, content.HashString(line), line, 1, res.Encoding)
		if err != nil {
			return err
		}
		if err := r.TextFiles.PutLine(ctx, ino.TenantID, ino.ID, layer, i, blockID, 0); err != nil {
			return err
		}
	}
	return r.TextFiles.PutMeta(ctx, &types.TextFileMeta{
		TenantID:        ino.TenantID,
		InodeID:         ino.ID,
		LayerID:         layer,
		TotalLines:      len(lines),
		Encoding:        res.Encoding,
		LineEnding:      res.LineEnding,
		TrailingNewline: res.TrailingNewline,
	})
}

// Delete clears the text rows of (inode, layer) and every binary block of the
// inode (data blocks carry no layer dimension), and upserts a
// whiteout entry. The caller decides whether the inode row itself is deleted
// or detached afterwards.
func (w *Writer) Delete(ctx context.Context, r *repo.Repos, ino *types.Inode, path string, layer types.LayerID) error {
	if err := r.TextFiles.DeleteFor(ctx, ino.TenantID, ino.ID, layer); err != nil {
		return err
	}
	if err := r.DataBlocks.DeleteAll(ctx, ino.TenantID, ino.ID); err != nil {
		return err
	}
	return r.Entries.Upsert(ctx, &types.LayerEntry{
		LayerID:    layer,
		Path:       path,
		InodeID:    ino.ID,
		ChangeKind: types.ChangeDelete,
		SizeDelta:  -ino.Size,
	})
}

// Read reconstructs the contents of (inode, layer). A text metadata row for
// the layer selects the text family; its absence selects binary blocks. The
// two representations are mutually exclusive per layer.
func Read(ctx context.Context, r *repo.Repos, tenant types.TenantID, inode types.InodeID, layer types.LayerID) ([]byte, error) {
	meta, err := r.TextFiles.GetMeta(ctx, tenant, inode, layer)
	switch {
	case err == nil:
		return readText(ctx, r, tenant, inode, layer, meta)
	case errors.IsKind(err, errors.KindNotFound):
		blocks, err := r.DataBlocks.ListByInode(ctx, tenant, inode)
		if err != nil {
			return nil, err
		}
		return content.JoinBlocks(blocks), nil
	default:
		return nil, err
	}
}

func readText(ctx context.Context, r *repo.Repos, tenant types.TenantID, inode types.InodeID,
	layer types.LayerID, meta *types.TextFileMeta) ([]byte, error) {

	lines, err := r.TextFiles.Lines(ctx, tenant, inode, layer)
	if err != nil {
		return nil, err
	}

	terminator := meta.LineEnding.Terminator()
	var sb strings.Builder
	blockIDs := make([]int64, 0, len(lines))
	for i, l := range lines {
		payload := l.Payload
		if l.Offset > 0 && l.Offset < len(payload) {
			payload = payload[l.Offset:]
		}
		sb.WriteString(payload)
		if i < len(lines)-1 || meta.TrailingNewline {
			sb.WriteString(terminator)
		}
		blockIDs = append(blockIDs, l.BlockID)
	}
	if err := r.TextBlocks.Touch(ctx, blockIDs); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// diffStats computes the advisory line-level diff summary with an LCS
// matcher. A replace opcode counts as modified up to the shorter side, with
// the remainder attributed to added or deleted.
func diffStats(prev, next []byte) *types.TextDiff {
	a := difflib.SplitLines(string(prev))
	b := difflib.SplitLines(string(next))
	m := difflib.NewMatcher(a, b)

	var d types.TextDiff
	for _, op := range m.GetOpCodes() {
		na := op.I2 - op.I1
		nb := op.J2 - op.J1
		switch op.Tag {
		case 'r':
			common := na
			if nb < common {
				common = nb
			}
			d.LinesModified += common
			if na > nb {
				d.LinesDeleted += na - nb
			} else {
				d.LinesAdded += nb - na
			}
		case 'd':
			d.LinesDeleted += na
		case 'i':
			d.LinesAdded += nb
		}
	}
	return &d
}
