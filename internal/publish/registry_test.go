package publish

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/internal/layer"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

type pubFixture struct {
	db       *store.DB
	repos    *repo.Repos
	mgr      *layer.Manager
	registry *Registry
	owner    *types.Tenant
	reader   *types.Tenant
	mount    *types.MountEntry
}

func newPubFixture(t *testing.T) *pubFixture {
	t.Helper()
	db, err := store.Open(config.StoreConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	r := repo.New(db.Handle())
	owner := &types.Tenant{ID: uuid.New(), Name: "owner", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.Tenants.Create(ctx, owner))
	reader := &types.Tenant{ID: uuid.New(), Name: "reader", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.Tenants.Create(ctx, reader))

	mnt := &types.MountEntry{
		ID: uuid.New(), TenantID: owner.ID, Name: "memory", VirtualPath: "/",
		SourceKind: types.SourceWorkingLayer, AccessMode: types.ModeReadWrite, Enabled: true,
	}
	require.NoError(t, r.Mounts.Create(ctx, mnt))
	mgr := layer.NewManager(db)
	_, err = mgr.Initialize(ctx, mnt)
	require.NoError(t, err)

	return &pubFixture{
		db: db, repos: r, mgr: mgr, registry: NewRegistry(db),
		owner: owner, reader: reader, mount: mnt,
	}
}

func TestPublishRequiresOwnedWorkingLayerMount(t *testing.T) {
	f := newPubFixture(t)
	ctx := context.Background()

	// Another tenant cannot publish the owner's mount (it is not visible
	// under the caller's tenant scope).
	_, err := f.registry.Publish(ctx, f.reader.ID, PublishRequest{
		MountName: "memory", Name: "shared-mem",
		Target: types.TargetWorkingLayer, Scope: types.ScopePublic,
	})
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	pub, err := f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "shared-mem",
		Target: types.TargetWorkingLayer, Scope: types.ScopePublic,
	})
	require.NoError(t, err)
	assert.Equal(t, "shared-mem", pub.Name)

	// A taken global name fails AlreadyExists.
	_, err = f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "shared-mem",
		Target: types.TargetWorkingLayer, Scope: types.ScopePublic,
	})
	assert.Equal(t, errors.KindAlreadyExists, errors.KindOf(err))
}

func TestPublishPinnedLayerValidation(t *testing.T) {
	f := newPubFixture(t)
	ctx := context.Background()

	_, err := f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "pinned",
		Target: types.TargetLayer, Scope: types.ScopePublic,
	})
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))

	working, err := f.mgr.CurrentLayer(ctx, f.mount.ID)
	require.NoError(t, err)
	_, err = f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "pinned",
		Target: types.TargetLayer, PinnedLayerID: &working.ID, Scope: types.ScopePublic,
	})
	require.NoError(t, err)
}

func TestResolveAccessPublicAndLiveTracking(t *testing.T) {
	f := newPubFixture(t)
	ctx := context.Background()

	_, err := f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "shared-mem",
		Target: types.TargetWorkingLayer, Scope: types.ScopePublic,
	})
	require.NoError(t, err)

	before, err := f.registry.ResolveAccess(ctx, f.reader.ID, "shared-mem")
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, before.OwnerTenant)

	// The publication tracks the live working layer across checkpoints.
	_, err = f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp1", "")
	require.NoError(t, err)
	after, err := f.registry.ResolveAccess(ctx, f.reader.ID, "shared-mem")
	require.NoError(t, err)
	assert.NotEqual(t, before.LayerID, after.LayerID)
}

func TestResolveAccessPinnedIsStable(t *testing.T) {
	f := newPubFixture(t)
	ctx := context.Background()

	working, err := f.mgr.CurrentLayer(ctx, f.mount.ID)
	require.NoError(t, err)
	_, err = f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "pinned",
		Target: types.TargetLayer, PinnedLayerID: &working.ID, Scope: types.ScopePublic,
	})
	require.NoError(t, err)

	_, err = f.mgr.CreateCheckpoint(ctx, f.mount.ID, "cp1", "")
	require.NoError(t, err)

	res, err := f.registry.ResolveAccess(ctx, f.reader.ID, "pinned")
	require.NoError(t, err)
	assert.Equal(t, working.ID, res.LayerID)
}

func TestAllowListEnforcement(t *testing.T) {
	f := newPubFixture(t)
	ctx := context.Background()
	third := &types.Tenant{ID: uuid.New(), Name: "third", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.repos.Tenants.Create(ctx, third))

	_, err := f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "priv",
		Target: types.TargetWorkingLayer, Scope: types.ScopeAllowList,
		Allowed: []types.TenantID{f.reader.ID},
	})
	require.NoError(t, err)

	// Listed tenant and owner pass; everyone else is denied.
	_, err = f.registry.ResolveAccess(ctx, f.reader.ID, "priv")
	require.NoError(t, err)
	_, err = f.registry.ResolveAccess(ctx, f.owner.ID, "priv")
	require.NoError(t, err)
	_, err = f.registry.ResolveAccess(ctx, third.ID, "priv")
	assert.Equal(t, errors.KindAccessDenied, errors.KindOf(err))

	// Revocation takes effect on the next access.
	require.NoError(t, f.registry.RemoveAllowedTenant(ctx, f.owner.ID, "priv", f.reader.ID))
	_, err = f.registry.ResolveAccess(ctx, f.reader.ID, "priv")
	assert.Equal(t, errors.KindAccessDenied, errors.KindOf(err))

	// Re-granting restores access.
	require.NoError(t, f.registry.AddAllowedTenant(ctx, f.owner.ID, "priv", f.reader.ID))
	_, err = f.registry.ResolveAccess(ctx, f.reader.ID, "priv")
	require.NoError(t, err)
}

func TestNonOwnerOperationsDenied(t *testing.T) {
	f := newPubFixture(t)
	ctx := context.Background()

	_, err := f.registry.Publish(ctx, f.owner.ID, PublishRequest{
		MountName: "memory", Name: "shared-mem",
		Target: types.TargetWorkingLayer, Scope: types.ScopePublic,
	})
	require.NoError(t, err)

	err = f.registry.Update(ctx, f.reader.ID, "shared-mem", "hijacked", types.ScopePublic)
	assert.Equal(t, errors.KindAccessDenied, errors.KindOf(err))
	err = f.registry.AddAllowedTenant(ctx, f.reader.ID, "shared-mem", f.reader.ID)
	assert.Equal(t, errors.KindAccessDenied, errors.KindOf(err))
	err = f.registry.Unpublish(ctx, f.reader.ID, "shared-mem")
	assert.Equal(t, errors.KindAccessDenied, errors.KindOf(err))

	// get-by-name remains open to everyone.
	pub, err := f.registry.GetByName(ctx, "shared-mem")
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, pub.TenantID)

	// Listing is caller-scoped: a foreign owner filter is denied, and a plain
	// list shows only the caller's publications.
	_, err = f.registry.List(ctx, f.reader.ID, repo.ListFilter{Owner: &f.owner.ID})
	assert.Equal(t, errors.KindAccessDenied, errors.KindOf(err))
	mine, err := f.registry.List(ctx, f.owner.ID, repo.ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	none, err := f.registry.List(ctx, f.reader.ID, repo.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, f.registry.Unpublish(ctx, f.owner.ID, "shared-mem"))
	_, err = f.registry.GetByName(ctx, "shared-mem")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}
