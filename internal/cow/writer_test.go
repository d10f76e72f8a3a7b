package cow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/internal/content"
	"github.com/tarbox/tarbox/internal/detect"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

type fixture struct {
	repos  *repo.Repos
	writer *Writer
	tenant *types.Tenant
	layer  *types.Layer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(config.StoreConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	r := repo.New(db.Handle())
	tenant := &types.Tenant{ID: uuid.New(), Name: "acme", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.Tenants.Create(ctx, tenant))
	rootID, err := r.Inodes.NextID(ctx, tenant.ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	root := &types.Inode{
		TenantID: tenant.ID, ID: rootID, Name: "/", Kind: types.FileKindDirectory,
		Mode: 0o755, Atime: now, Mtime: now, Ctime: now,
	}
	require.NoError(t, r.Inodes.Create(ctx, root))
	require.NoError(t, r.Tenants.SetRootInode(ctx, tenant.ID, root.ID))
	tenant.RootInode = root.ID

	l := &types.Layer{
		ID: uuid.New(), TenantID: tenant.ID, Name: "working", IsWorking: true,
		CreatedAt: now, Status: types.LayerStatusActive,
	}
	require.NoError(t, r.Layers.Create(ctx, l))

	return &fixture{
		repos:  r,
		writer: NewWriter(detect.New(config.NewDefault().Detector)),
		tenant: tenant,
		layer:  l,
	}
}

func (f *fixture) newInode(t *testing.T, name string) *types.Inode {
	t.Helper()
	ctx := context.Background()
	id, err := f.repos.Inodes.NextID(ctx, f.tenant.ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	root := f.tenant.RootInode
	ino := &types.Inode{
		TenantID: f.tenant.ID, ID: id, ParentID: &root, Name: name,
		Kind: types.FileKindFile, Mode: 0o644, Atime: now, Mtime: now, Ctime: now,
	}
	require.NoError(t, f.repos.Inodes.Create(ctx, ino))
	return ino
}

func TestWriteTextRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "a.txt")
	content := []byte("one\ntwo\nthree\n")

	res, err := f.writer.Write(ctx, f.repos, ino, "/a.txt", content, nil, false, f.layer.ID)
	require.NoError(t, err)
	assert.True(t, res.IsText)
	assert.Equal(t, types.ChangeAdd, res.ChangeKind)
	assert.Equal(t, int64(len(content)), res.SizeDelta)

	got, err := Read(ctx, f.repos, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Text rows exist for the layer, no binary blocks.
	meta, err := f.repos.TextFiles.GetMeta(ctx, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.TotalLines)
	assert.True(t, meta.TrailingNewline)
	n, err := f.repos.DataBlocks.Count(ctx, f.tenant.ID, ino.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteCRLFRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "a.txt")
	content := []byte("one\r\ntwo\r\n")

	_, err := f.writer.Write(ctx, f.repos, ino, "/a.txt", content, nil, false, f.layer.ID)
	require.NoError(t, err)

	got, err := Read(ctx, f.repos, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWriteEmptyFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "empty")

	res, err := f.writer.Write(ctx, f.repos, ino, "/empty", nil, nil, false, f.layer.ID)
	require.NoError(t, err)
	assert.True(t, res.IsText)
	assert.Equal(t, types.ChangeAdd, res.ChangeKind)

	meta, err := f.repos.TextFiles.GetMeta(ctx, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Zero(t, meta.TotalLines)
	assert.Equal(t, types.EncodingUTF8, meta.Encoding)
	assert.False(t, meta.TrailingNewline)

	got, err := Read(ctx, f.repos, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTextDedupAcrossFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newInode(t, "a.txt")
	b := f.newInode(t, "b.txt")

	_, err := f.writer.Write(ctx, f.repos, a, "/a.txt", []byte("one\ntwo\nthree\n"), nil, false, f.layer.ID)
	require.NoError(t, err)
	_, err = f.writer.Write(ctx, f.repos, b, "/b.txt", []byte("two\nfour\nthree\n"), nil, false, f.layer.ID)
	require.NoError(t, err)

	// Four distinct lines produce four blocks.
	count, err := f.repos.TextBlocks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// The shared line is referenced twice.
	shared, err := f.repos.TextBlocks.GetByHash(ctx, hashLine("two"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), shared.RefCount)

	got, err := Read(ctx, f.repos, f.tenant.ID, a.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("one\ntwo\nthree\n"), got)
}

func TestWriteBinaryRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "blob")
	content := append([]byte{0x00, 0x01, 0x02}, bytes.Repeat([]byte{0xFF}, 5000)...)

	res, err := f.writer.Write(ctx, f.repos, ino, "/blob", content, nil, false, f.layer.ID)
	require.NoError(t, err)
	assert.False(t, res.IsText)

	got, err := Read(ctx, f.repos, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	n, err := f.repos.DataBlocks.Count(ctx, f.tenant.ID, ino.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// No text rows for a binary file.
	_, err = f.repos.TextFiles.GetMeta(ctx, f.tenant.ID, ino.ID, f.layer.ID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestStorageFamilyMigration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "f")

	text := []byte("plain\ntext\n")
	_, err := f.writer.Write(ctx, f.repos, ino, "/f", text, nil, false, f.layer.ID)
	require.NoError(t, err)

	// Text to binary clears the text family.
	binary := append([]byte{0x00}, bytes.Repeat([]byte{0x7F}, 100)...)
	res, err := f.writer.Write(ctx, f.repos, ino, "/f", binary, text, true, f.layer.ID)
	require.NoError(t, err)
	assert.False(t, res.IsText)
	assert.Equal(t, types.ChangeModify, res.ChangeKind)
	_, err = f.repos.TextFiles.GetMeta(ctx, f.tenant.ID, ino.ID, f.layer.ID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	// And back: binary to text clears the binary family.
	res, err = f.writer.Write(ctx, f.repos, ino, "/f", text, binary, true, f.layer.ID)
	require.NoError(t, err)
	assert.True(t, res.IsText)
	n, err := f.repos.DataBlocks.Count(ctx, f.tenant.ID, ino.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := Read(ctx, f.repos, f.tenant.ID, ino.ID, f.layer.ID)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestRepeatedWriteSingleEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "a.txt")

	_, err := f.writer.Write(ctx, f.repos, ino, "/a.txt", []byte("v1\n"), nil, false, f.layer.ID)
	require.NoError(t, err)
	_, err = f.writer.Write(ctx, f.repos, ino, "/a.txt", []byte("v1\n"), []byte("v1\n"), true, f.layer.ID)
	require.NoError(t, err)

	entries, err := f.repos.Entries.ListByLayer(ctx, f.layer.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/a.txt", entries[0].Path)
}

func TestTextDiffStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "a.txt")

	prev := []byte("one\ntwo\nthree\n")
	_, err := f.writer.Write(ctx, f.repos, ino, "/a.txt", prev, nil, false, f.layer.ID)
	require.NoError(t, err)

	next := []byte("one\nTWO\nthree\nfour\n")
	res, err := f.writer.Write(ctx, f.repos, ino, "/a.txt", next, prev, true, f.layer.ID)
	require.NoError(t, err)
	require.NotNil(t, res.TextDiff)
	assert.Equal(t, 1, res.TextDiff.LinesModified)
	assert.Equal(t, 1, res.TextDiff.LinesAdded)
	assert.Zero(t, res.TextDiff.LinesDeleted)
}

func TestDeleteRecordsWhiteout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ino := f.newInode(t, "a.txt")

	_, err := f.writer.Write(ctx, f.repos, ino, "/a.txt", []byte("data\n"), nil, false, f.layer.ID)
	require.NoError(t, err)
	got, err := f.repos.Inodes.Get(ctx, f.tenant.ID, ino.ID)
	require.NoError(t, err)

	require.NoError(t, f.writer.Delete(ctx, f.repos, got, "/a.txt", f.layer.ID))

	entry, err := f.repos.Entries.Get(ctx, f.layer.ID, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, types.ChangeDelete, entry.ChangeKind)
	assert.Equal(t, int64(-5), entry.SizeDelta)

	_, err = f.repos.TextFiles.GetMeta(ctx, f.tenant.ID, ino.ID, f.layer.ID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func hashLine(line string) string {
	return content.HashString(line)
}
