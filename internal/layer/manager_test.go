package layer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

type chainFixture struct {
	db     *store.DB
	repos  *repo.Repos
	mgr    *Manager
	tenant *types.Tenant
	mount  *types.MountEntry
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()
	db, err := store.Open(config.StoreConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	r := repo.New(db.Handle())
	tenant := &types.Tenant{ID: uuid.New(), Name: "acme", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.Tenants.Create(ctx, tenant))

	mnt := &types.MountEntry{
		ID: uuid.New(), TenantID: tenant.ID, Name: "data", VirtualPath: "/",
		SourceKind: types.SourceWorkingLayer, AccessMode: types.ModeReadWrite, Enabled: true,
	}
	require.NoError(t, r.Mounts.Create(ctx, mnt))

	return &chainFixture{db: db, repos: r, mgr: NewManager(db), tenant: tenant, mount: mnt}
}

func (f *chainFixture) addEntry(t *testing.T, layerID types.LayerID, path string) {
	t.Helper()
	require.NoError(t, f.repos.Entries.Upsert(context.Background(), &types.LayerEntry{
		LayerID: layerID, Path: path, InodeID: 1, ChangeKind: types.ChangeAdd, SizeDelta: 1,
	}))
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()

	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)
	assert.True(t, base.IsWorking)
	assert.Equal(t, BaseLayerName, base.Name)
	assert.Nil(t, base.ParentID)

	again, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)
	assert.Equal(t, base.ID, again.ID)

	chain, err := f.mgr.ListLayers(ctx, f.mount.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestCreateCheckpointFreezesAndAdvances(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)

	fresh, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp1", "first checkpoint")
	require.NoError(t, err)
	assert.True(t, fresh.IsWorking)
	require.NotNil(t, fresh.ParentID)
	assert.Equal(t, base.ID, *fresh.ParentID)

	frozen, err := f.repos.Layers.Get(ctx, base.ID)
	require.NoError(t, err)
	assert.False(t, frozen.IsWorking)
	assert.True(t, frozen.ReadOnly)
	assert.Equal(t, "cp1", frozen.Name)

	// Exactly one working layer per mount.
	chain, err := f.mgr.ListLayers(ctx, f.mount.ID)
	require.NoError(t, err)
	working := 0
	for _, l := range chain {
		if l.IsWorking {
			working++
		}
	}
	assert.Equal(t, 1, working)
	assert.Equal(t, "cp1", chain[0].Name)
	assert.Equal(t, fresh.ID, chain[1].ID)
}

func TestSwitchIsNonDestructive(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)
	f.addEntry(t, base.ID, "/x")

	fresh, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp1", "")
	require.NoError(t, err)
	f.addEntry(t, fresh.ID, "/y")

	switched, err := f.mgr.Switch(ctx, f.mount.ID, base.ID)
	require.NoError(t, err)
	assert.True(t, switched.IsWorking)

	cur, err := f.mgr.CurrentLayer(ctx, f.mount.ID)
	require.NoError(t, err)
	assert.Equal(t, base.ID, cur.ID)

	// Nothing was removed: both layers and their entries survive.
	chain, err := f.mgr.ListLayers(ctx, f.mount.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	_, err = f.repos.Entries.Get(ctx, fresh.ID, "/y")
	require.NoError(t, err)

	// Switching back restores the working layer.
	_, err = f.mgr.Switch(ctx, f.mount.ID, fresh.ID)
	require.NoError(t, err)
	cur, err = f.mgr.CurrentLayer(ctx, f.mount.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, cur.ID)
}

func TestHistoricalCheckpointRequiresConfirm(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)

	post, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp1", "")
	require.NoError(t, err)
	f.addEntry(t, post.ID, "/post")

	// Move back to the historical position.
	_, err = f.mgr.Switch(ctx, f.mount.ID, base.ID)
	require.NoError(t, err)

	historical, err := f.mgr.IsHistoricalPosition(ctx, base.ID)
	require.NoError(t, err)
	assert.True(t, historical)

	// Without confirm the fork is refused.
	_, err = f.mgr.CreateCheckpointWithConfirm(ctx, f.mount.ID, "cp2", "", false)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))

	// With confirm the descendants are removed and the new working layer is
	// parented on the historical position.
	fresh, err := f.mgr.CreateCheckpointWithConfirm(ctx, f.mount.ID, "cp2", "", true)
	require.NoError(t, err)
	require.NotNil(t, fresh.ParentID)
	assert.Equal(t, base.ID, *fresh.ParentID)

	_, err = f.repos.Layers.Get(ctx, post.ID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	_, err = f.repos.Entries.Get(ctx, post.ID, "/post")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	// The historical layer kept its name.
	kept, err := f.repos.Layers.Get(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, "cp1", kept.Name)
}

func TestDeleteLayerRules(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)
	mid, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp1", "")
	require.NoError(t, err)
	tip, err := f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp2", "")
	require.NoError(t, err)

	// The working layer cannot be deleted.
	err = f.mgr.Delete(ctx, f.mount.ID, tip.ID)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))

	// A layer with children cannot be deleted.
	err = f.mgr.Delete(ctx, f.mount.ID, base.ID)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))

	// Once the working position moves to the middle layer, a confirmed fork
	// from there removes the tip.
	_, err = f.mgr.Switch(ctx, f.mount.ID, mid.ID)
	require.NoError(t, err)
	_, err = f.mgr.CreateCheckpointWithConfirm(ctx, f.mount.ID, "", "", true)
	require.NoError(t, err)
	_, err = f.repos.Layers.Get(ctx, tip.ID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestHasChanges(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)

	changed, err := f.mgr.HasChanges(ctx, f.mount.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	f.addEntry(t, base.ID, "/x")
	changed, err = f.mgr.HasChanges(ctx, f.mount.ID)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSnapshotMultipleSkipUnchanged(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	base, err := f.mgr.Initialize(ctx, f.mount)
	require.NoError(t, err)

	r := f.repos
	other := &types.MountEntry{
		ID: uuid.New(), TenantID: f.tenant.ID, Name: "scratch", VirtualPath: "/scratch",
		SourceKind: types.SourceWorkingLayer, AccessMode: types.ModeReadWrite, Enabled: true,
	}
	require.NoError(t, r.Mounts.Create(ctx, other))
	_, err = f.mgr.Initialize(ctx, other)
	require.NoError(t, err)

	f.addEntry(t, base.ID, "/x")

	results, err := f.mgr.SnapshotMultiple(ctx, f.tenant.ID, []string{"data", "scratch"}, "snap-1", true)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]types.SnapshotResult{}
	for _, res := range results {
		byName[res.MountName] = res
		// Exactly one of LayerID or Skipped is set.
		assert.NotEqual(t, res.LayerID != nil, res.Skipped)
	}
	require.NotNil(t, byName["data"].LayerID)
	assert.Equal(t, base.ID, *byName["data"].LayerID)
	assert.True(t, byName["scratch"].Skipped)
	assert.NotEmpty(t, byName["scratch"].Reason)

	// The snapshotted mount's frozen layer carries the snapshot name.
	frozen, err := r.Layers.Get(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", frozen.Name)
	assert.False(t, frozen.IsWorking)
}
