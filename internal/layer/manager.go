// Package layer implements the per-mount layer chain: a linear history of
// frozen snapshots ending in exactly one mutable working layer, plus the
// union view that resolves reads across a chain.
package layer

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/log"
	"github.com/tarbox/tarbox/pkg/types"
)

// BaseLayerName is the name given to a mount's first layer.
const BaseLayerName = "base"

// WorkingLayerName is the name a fresh working layer carries until it is
// frozen under a checkpoint name.
const WorkingLayerName = "working"

// Manager owns chain mutations and caches the identity of each mount's
// working layer. The cache is refreshed from the store on a miss or when the
// cached layer is no longer working; checkpoint and switch overwrite the entry,
// and multi-mount snapshots drop it.
type Manager struct {
	db *store.DB

	mu      sync.RWMutex
	working map[types.MountID]types.LayerID
}

// NewManager builds a chain manager over the store.
func NewManager(db *store.DB) *Manager {
	return &Manager{
		db:      db,
		working: make(map[types.MountID]types.LayerID),
	}
}

// Initialize creates the mount's base layer on first call and returns the
// existing chain afterward. The base layer starts as the working layer.
func (m *Manager) Initialize(ctx context.Context, mount *types.MountEntry) (*types.Layer, error) {
	var created *types.Layer
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		existing, err := r.Layers.GetWorking(ctx, mount.ID)
		if err == nil {
			created = existing
			return nil
		}
		if !errors.IsKind(err, errors.KindNotFound) {
			return err
		}

		base := &types.Layer{
			ID:        uuid.New(),
			TenantID:  mount.TenantID,
			MountID:   &mount.ID,
			Name:      BaseLayerName,
			IsWorking: true,
			CreatedAt: time.Now().UTC(),
			Status:    types.LayerStatusActive,
		}
		if err := r.Layers.Create(ctx, base); err != nil {
			return err
		}
		if err := r.Mounts.SetWorkingLayer(ctx, mount.ID, base.ID); err != nil {
			return err
		}
		created = base
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.cacheWorking(mount.ID, created.ID)
	return created, nil
}

// CurrentLayer returns the mount's working layer.
func (m *Manager) CurrentLayer(ctx context.Context, mount types.MountID) (*types.Layer, error) {
	m.mu.RLock()
	id, ok := m.working[mount]
	m.mu.RUnlock()
	if ok {
		l, err := repo.New(m.db.Handle()).Layers.Get(ctx, id)
		if err == nil && l.IsWorking {
			return l, nil
		}
		// Stale cache: fall through to the store.
		m.invalidate(mount)
	}

	l, err := repo.New(m.db.Handle()).Layers.GetWorking(ctx, mount)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.Newf(errors.KindNotFound, "mount %s has no working layer", mount)
		}
		return nil, err
	}
	m.cacheWorking(mount, l.ID)
	return l, nil
}

// ListLayers returns the mount's full chain ordered base to tip.
func (m *Manager) ListLayers(ctx context.Context, mount types.MountID) ([]types.Layer, error) {
	return chainForMount(ctx, repo.New(m.db.Handle()), mount)
}

// chainForMount orders a mount's layers by walking parent links from the base.
func chainForMount(ctx context.Context, r *repo.Repos, mount types.MountID) ([]types.Layer, error) {
	all, err := r.Layers.ListByMount(ctx, mount)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	byParent := make(map[types.LayerID]*types.Layer, len(all))
	var base *types.Layer
	for i := range all {
		l := &all[i]
		if l.ParentID == nil {
			base = l
		} else {
			byParent[*l.ParentID] = l
		}
	}
	if base == nil {
		return nil, errors.New(errors.KindOther, "layer chain has no base")
	}

	chain := make([]types.Layer, 0, len(all))
	for cur := base; cur != nil; cur = byParent[cur.ID] {
		chain = append(chain, *cur)
		if len(chain) > len(all) {
			return nil, errors.New(errors.KindOther, "layer chain has a cycle")
		}
	}
	return chain, nil
}

// CreateCheckpoint freezes the working layer under the given name and opens a
// fresh working layer on top of it. The new working layer is returned.
func (m *Manager) CreateCheckpoint(ctx context.Context, mount types.MountID, name, description string) (*types.Layer, error) {
	return m.checkpointConfirm(ctx, mount, name, description, false)
}

// CreateCheckpointWithConfirm behaves like CreateCheckpoint, but when the
// working position is historical (it has descendant layers) it refuses unless
// confirm is set, and with confirm it deletes the descendants before opening
// the new working layer on top of the historical position.
func (m *Manager) CreateCheckpointWithConfirm(ctx context.Context, mount types.MountID, name, description string, confirm bool) (*types.Layer, error) {
	return m.checkpointConfirm(ctx, mount, name, description, confirm)
}

func (m *Manager) checkpointConfirm(ctx context.Context, mount types.MountID, name, description string, confirm bool) (*types.Layer, error) {
	var fresh *types.Layer
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		working, err := r.Layers.GetWorking(ctx, mount)
		if err != nil {
			return err
		}
		children, err := r.Layers.Children(ctx, working.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			if !confirm {
				return errors.Newf(errors.KindInvalidArgument,
					"layer %s is a historical position; pass confirm to drop its descendants", working.Name)
			}
			if err := deleteDescendants(ctx, r, working.ID); err != nil {
				return err
			}
		}

		created, err := freezeAndAdvance(ctx, r, mount, working, name, description)
		if err != nil {
			return err
		}
		fresh = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.cacheWorking(mount, fresh.ID)
	return fresh, nil
}

// freezeAndAdvance freezes the working layer and opens its successor. A layer
// that is already read-only (a historical position re-activated by switch)
// keeps its name; a live one takes the checkpoint name.
func freezeAndAdvance(ctx context.Context, r *repo.Repos, mount types.MountID, working *types.Layer, name, description string) (*types.Layer, error) {
	if err := r.Layers.SetWorking(ctx, working.ID, false); err != nil {
		return nil, err
	}
	freshName := WorkingLayerName
	if !working.ReadOnly {
		if err := freeze(ctx, r, working.ID, name, description); err != nil {
			return nil, err
		}
	} else if name != "" {
		// The historical layer keeps its identity; the caller's name goes to
		// the new working layer so the operation is still traceable.
		freshName = name
	}

	fresh := &types.Layer{
		ID:        uuid.New(),
		TenantID:  working.TenantID,
		ParentID:  &working.ID,
		MountID:   &mount,
		Name:      freshName,
		IsWorking: true,
		CreatedAt: time.Now().UTC(),
		Status:    types.LayerStatusActive,
	}
	if err := r.Layers.Create(ctx, fresh); err != nil {
		return nil, err
	}
	if err := r.Mounts.SetWorkingLayer(ctx, mount, fresh.ID); err != nil {
		return nil, err
	}
	return fresh, nil
}

func freeze(ctx context.Context, r *repo.Repos, id types.LayerID, name, description string) error {
	if err := r.Layers.SetReadOnly(ctx, id, true); err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	return r.Layers.Rename(ctx, id, name, description)
}

// deleteDescendants removes every descendant of a layer, leaves first so the
// parent RESTRICT never trips. Entries, text rows, and line maps cascade.
func deleteDescendants(ctx context.Context, r *repo.Repos, id types.LayerID) error {
	children, err := r.Layers.Children(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := deleteDescendants(ctx, r, child.ID); err != nil {
			return err
		}
		if err := r.Layers.Delete(ctx, child.ID); err != nil {
			return err
		}
	}
	return nil
}

// IsHistoricalPosition reports whether the layer has descendants in its
// chain, meaning a checkpoint created on it would fork history.
func (m *Manager) IsHistoricalPosition(ctx context.Context, id types.LayerID) (bool, error) {
	children, err := repo.New(m.db.Handle()).Layers.Children(ctx, id)
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

// Switch makes the target layer the mount's working layer. Non-destructive:
// no layer or data is removed, so switching back restores the previous view.
func (m *Manager) Switch(ctx context.Context, mount types.MountID, target types.LayerID) (*types.Layer, error) {
	var switched *types.Layer
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		tl, err := r.Layers.Get(ctx, target)
		if err != nil {
			return err
		}
		if tl.MountID == nil || *tl.MountID != mount {
			return errors.Newf(errors.KindNotFound, "layer %s does not belong to this mount", target)
		}
		current, err := r.Layers.GetWorking(ctx, mount)
		if err != nil {
			return err
		}
		if current.ID == target {
			switched = current
			return nil
		}
		if err := r.Layers.SetWorking(ctx, current.ID, false); err != nil {
			return err
		}
		if err := r.Layers.SetWorking(ctx, target, true); err != nil {
			return err
		}
		if err := r.Mounts.SetWorkingLayer(ctx, mount, target); err != nil {
			return err
		}
		switched = tl
		switched.IsWorking = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.cacheWorking(mount, target)
	return switched, nil
}

// Delete removes a frozen leaf layer. The working layer and layers with
// children are refused.
func (m *Manager) Delete(ctx context.Context, mount types.MountID, id types.LayerID) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		l, err := r.Layers.Get(ctx, id)
		if err != nil {
			return err
		}
		if l.MountID == nil || *l.MountID != mount {
			return errors.Newf(errors.KindNotFound, "layer %s does not belong to this mount", id)
		}
		if l.IsWorking {
			return errors.New(errors.KindInvalidArgument, "cannot delete the working layer")
		}
		children, err := r.Layers.Children(ctx, id)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return errors.Newf(errors.KindInvalidArgument, "layer %s has child layers", l.Name)
		}
		return r.Layers.Delete(ctx, id)
	})
}

// HasChanges reports whether the mount's working layer contains any entries.
// A whiteout counts as a change.
func (m *Manager) HasChanges(ctx context.Context, mount types.MountID) (bool, error) {
	working, err := m.CurrentLayer(ctx, mount)
	if err != nil {
		return false, err
	}
	n, err := repo.New(m.db.Handle()).Entries.Count(ctx, working.ID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SnapshotMultiple checkpoints each named mount in one transaction. With
// skipUnchanged, mounts whose working layer has no entries are skipped with a
// reason instead of snapshotted. Exactly one of LayerID or Skipped is set in
// each result.
func (m *Manager) SnapshotMultiple(ctx context.Context, tenant types.TenantID, mountNames []string, snapshotName string, skipUnchanged bool) ([]types.SnapshotResult, error) {
	var results []types.SnapshotResult
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		results = results[:0]
		for _, name := range mountNames {
			mnt, err := r.Mounts.GetByName(ctx, tenant, name)
			if err != nil {
				return err
			}
			if mnt.SourceKind != types.SourceWorkingLayer {
				return errors.Newf(errors.KindInvalidArgument, "mount %s is not a working-layer mount", name)
			}
			working, err := r.Layers.GetWorking(ctx, mnt.ID)
			if err != nil {
				return err
			}
			if skipUnchanged {
				n, err := r.Entries.Count(ctx, working.ID)
				if err != nil {
					return err
				}
				if n == 0 {
					results = append(results, types.SnapshotResult{
						MountName: name,
						Skipped:   true,
						Reason:    "working layer has no changes",
					})
					continue
				}
			}
			if _, err := freezeAndAdvance(ctx, r, mnt.ID, working, snapshotName, ""); err != nil {
				return err
			}
			frozen := working.ID
			results = append(results, types.SnapshotResult{MountName: name, LayerID: &frozen})
			m.invalidate(mnt.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	layerLogger := log.WithComponent("layer")
	layerLogger.Debug().Int("mounts", len(results)).Msg("snapshot complete")
	return results, nil
}

func (m *Manager) cacheWorking(mount types.MountID, layer types.LayerID) {
	m.mu.Lock()
	m.working[mount] = layer
	m.mu.Unlock()
}

func (m *Manager) invalidate(mount types.MountID) {
	m.mu.Lock()
	delete(m.working, mount)
	m.mu.Unlock()
}
