package layer

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarbox/tarbox/pkg/types"
)

// buildChain initializes a three-layer chain: base (frozen) with /kept and
// /doomed, middle (frozen) with /doomed whiteout and /added, working empty.
func buildChain(t *testing.T) (*chainFixture, []types.Layer) {
	f := newChainFixture(t)
	ctx := context.Background()

	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)
	f.addEntry(t, base.ID, "/kept")
	f.addEntry(t, base.ID, "/doomed")

	middle, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "middle-frozen", "")
	require.NoError(t, err)
	require.NoError(t, f.repos.Entries.Upsert(ctx, &types.LayerEntry{
		LayerID: middle.ID, Path: "/doomed", InodeID: 1, ChangeKind: types.ChangeDelete,
	}))
	f.addEntry(t, middle.ID, "/added")

	working, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "tip-frozen", "")
	require.NoError(t, err)

	chain, err := f.mgr.ListLayers(ctx, f.mount.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, working.ID, chain[2].ID)
	return f, chain
}

func TestLookupAcrossChain(t *testing.T) {
	f, chain := buildChain(t)
	ctx := context.Background()
	view, err := NewView(ctx, f.repos, chain[2].ID)
	require.NoError(t, err)

	kept, err := view.Lookup(ctx, f.repos, "/kept")
	require.NoError(t, err)
	assert.Equal(t, types.FileStateExists, kept.Kind)
	assert.Equal(t, chain[0].ID, kept.LayerID)

	// The whiteout in the middle layer tombstones the base version.
	doomed, err := view.Lookup(ctx, f.repos, "/doomed")
	require.NoError(t, err)
	assert.Equal(t, types.FileStateDeleted, doomed.Kind)
	assert.Equal(t, chain[1].ID, doomed.LayerID)

	missing, err := view.Lookup(ctx, f.repos, "/nope")
	require.NoError(t, err)
	assert.Equal(t, types.FileStateNotFound, missing.Kind)
}

func TestLookupFromHistoricalLayerIgnoresDescendants(t *testing.T) {
	f, chain := buildChain(t)
	ctx := context.Background()

	// A view rooted at the base never sees the middle layer's whiteout.
	view, err := NewView(ctx, f.repos, chain[0].ID)
	require.NoError(t, err)
	st, err := view.Lookup(ctx, f.repos, "/doomed")
	require.NoError(t, err)
	assert.Equal(t, types.FileStateExists, st.Kind)
}

func TestListDirectoryMergesWithWhiteouts(t *testing.T) {
	f, chain := buildChain(t)
	ctx := context.Background()
	view, err := NewView(ctx, f.repos, chain[2].ID)
	require.NoError(t, err)

	entries, err := view.ListDirectory(ctx, f.repos, "/")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Path)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"/added", "/kept"}, names)
}

func TestFileHistory(t *testing.T) {
	f, chain := buildChain(t)
	ctx := context.Background()
	view, err := NewView(ctx, f.repos, chain[2].ID)
	require.NoError(t, err)

	history, err := view.FileHistory(ctx, f.repos, "/doomed")
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first: the whiteout, then the base add.
	assert.Equal(t, types.ChangeDelete, history[0].ChangeKind)
	assert.Equal(t, chain[1].ID, history[0].Layer.ID)
	assert.Equal(t, types.ChangeAdd, history[1].ChangeKind)
	assert.Equal(t, chain[0].ID, history[1].Layer.ID)
}

func TestFindLayer(t *testing.T) {
	f, chain := buildChain(t)
	ctx := context.Background()
	view, err := NewView(ctx, f.repos, chain[2].ID)
	require.NoError(t, err)

	found, err := view.FindLayer(ctx, f.repos, "/added")
	require.NoError(t, err)
	assert.Equal(t, chain[1].ID, found.ID)

	_, err = view.FindLayer(ctx, f.repos, "/missing")
	require.Error(t, err)
}
