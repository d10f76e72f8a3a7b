// Package mount implements namespace composition: the set of named mount
// entries rooting a tenant's virtual path space, the validation rules that
// keep the set consistent, and the resolver that maps a virtual path to a
// concrete source.
package mount

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tarbox/tarbox/internal/layer"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// Composer manages a tenant's mount set.
type Composer struct {
	db     *store.DB
	layers *layer.Manager
}

// NewComposer builds a composer over the store and chain manager.
func NewComposer(db *store.DB, layers *layer.Manager) *Composer {
	return &Composer{db: db, layers: layers}
}

// ValidateEntry checks one entry in isolation: name, path shape, and that
// exactly the discriminant fields of its source kind are populated.
func ValidateEntry(e *types.MountEntry) error {
	if e.Name == "" {
		return errors.New(errors.KindInvalidArgument, "mount name must not be empty")
	}
	if _, err := Canonicalize(e.VirtualPath); err != nil {
		return err
	}
	switch e.AccessMode {
	case types.ModeReadOnly, types.ModeReadWrite, types.ModeCopyOnWrite:
	default:
		return errors.Newf(errors.KindInvalidArgument, "unknown access mode %q", e.AccessMode)
	}

	populated := func(host, layerRef, published, working bool) error {
		if (e.HostPath != "") != host {
			return errors.Newf(errors.KindInvalidArgument, "mount %s: host_path mismatch for kind %s", e.Name, e.SourceKind)
		}
		if (e.SourceMountID != nil || e.SourceLayerID != nil) != layerRef {
			return errors.Newf(errors.KindInvalidArgument, "mount %s: layer source mismatch for kind %s", e.Name, e.SourceKind)
		}
		if (e.PublicationName != "") != published {
			return errors.Newf(errors.KindInvalidArgument, "mount %s: publication_name mismatch for kind %s", e.Name, e.SourceKind)
		}
		_ = working // the working layer id is filled in by initialization
		return nil
	}

	switch e.SourceKind {
	case types.SourceHost:
		if e.HostPath == "" || e.HostPath[0] != '/' {
			return errors.Newf(errors.KindInvalidArgument, "mount %s: host source needs an absolute host path", e.Name)
		}
		return populated(true, false, false, false)
	case types.SourceLayer:
		if e.SourceMountID == nil || e.SourceLayerID == nil {
			return errors.Newf(errors.KindInvalidArgument, "mount %s: layer source needs a mount and layer reference", e.Name)
		}
		return populated(false, true, false, false)
	case types.SourcePublished:
		if e.PublicationName == "" {
			return errors.Newf(errors.KindInvalidArgument, "mount %s: published source needs a publication name", e.Name)
		}
		return populated(false, false, true, false)
	case types.SourceWorkingLayer:
		return populated(false, false, false, true)
	default:
		return errors.Newf(errors.KindInvalidArgument, "unknown source kind %q", e.SourceKind)
	}
}

// ValidateSet checks the pairwise rules over a set of enabled entries: unique
// names, unique virtual paths, and no nesting between two directory mounts.
// File mounts may sit inside a directory mount so long as their exact paths
// do not collide.
func ValidateSet(entries []types.MountEntry) error {
	names := make(map[string]struct{}, len(entries))
	paths := make(map[string]struct{}, len(entries))
	for i := range entries {
		e := &entries[i]
		if err := ValidateEntry(e); err != nil {
			return err
		}
		if _, dup := names[e.Name]; dup {
			return errors.Newf(errors.KindAlreadyExists, "duplicate mount name %q", e.Name)
		}
		names[e.Name] = struct{}{}
		if _, dup := paths[e.VirtualPath]; dup {
			return errors.Newf(errors.KindAlreadyExists, "duplicate virtual path %q", e.VirtualPath)
		}
		paths[e.VirtualPath] = struct{}{}
	}

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			a, b := &entries[i], &entries[j]
			if !a.Enabled || !b.Enabled || a.IsFile || b.IsFile {
				continue
			}
			if IsPathPrefix(a.VirtualPath, b.VirtualPath) || IsPathPrefix(b.VirtualPath, a.VirtualPath) {
				return errors.Newf(errors.KindInvalidArgument,
					"directory mounts %q and %q have nested virtual paths", a.Name, b.Name)
			}
		}
	}
	return nil
}

// Create validates and inserts one mount entry against the tenant's current
// set, then initializes the layer chain for working-layer mounts.
func (c *Composer) Create(ctx context.Context, e *types.MountEntry) (*types.MountEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		existing, err := r.Mounts.ListEnabled(ctx, e.TenantID)
		if err != nil {
			return err
		}
		if err := ValidateSet(append(existing, *e)); err != nil {
			return err
		}
		return r.Mounts.Create(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	if e.SourceKind == types.SourceWorkingLayer {
		base, err := c.layers.Initialize(ctx, e)
		if err != nil {
			return nil, err
		}
		e.WorkingLayerID = &base.ID
	}
	return e, nil
}

// SetEntries atomically replaces the tenant's mount set. A single invalid
// entry fails the whole call and leaves the previous set in place.
func (c *Composer) SetEntries(ctx context.Context, tenant types.TenantID, entries []types.MountEntry) error {
	for i := range entries {
		entries[i].TenantID = tenant
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
	}
	if err := ValidateSet(entries); err != nil {
		return err
	}

	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		if err := r.Mounts.DeleteAllForTenant(ctx, tenant); err != nil {
			return err
		}
		for i := range entries {
			if err := r.Mounts.Create(ctx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range entries {
		if entries[i].SourceKind == types.SourceWorkingLayer {
			if _, err := c.layers.Initialize(ctx, &entries[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns the tenant's mount entries.
func (c *Composer) List(ctx context.Context, tenant types.TenantID) ([]types.MountEntry, error) {
	return repo.New(c.db.Handle()).Mounts.ListByTenant(ctx, tenant)
}

// GetByName returns one mount entry by its tenant-unique name.
func (c *Composer) GetByName(ctx context.Context, tenant types.TenantID, name string) (*types.MountEntry, error) {
	return repo.New(c.db.Handle()).Mounts.GetByName(ctx, tenant, name)
}

// Delete removes one mount entry.
func (c *Composer) Delete(ctx context.Context, tenant types.TenantID, name string) error {
	return c.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		m, err := r.Mounts.GetByName(ctx, tenant, name)
		if err != nil {
			return err
		}
		return r.Mounts.Delete(ctx, m.ID)
	})
}

// DefaultWritableMount picks the tenant's default working-layer mount: the
// enabled one with the shortest virtual path, the namespace root winning
// outright. The hook namespace operates on this mount.
func (c *Composer) DefaultWritableMount(ctx context.Context, tenant types.TenantID) (*types.MountEntry, error) {
	entries, err := repo.New(c.db.Handle()).Mounts.ListEnabled(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var best *types.MountEntry
	for i := range entries {
		e := &entries[i]
		if e.SourceKind != types.SourceWorkingLayer {
			continue
		}
		if best == nil || len(e.VirtualPath) < len(best.VirtualPath) {
			best = e
		}
	}
	if best == nil {
		return nil, errors.New(errors.KindNotFound, "tenant has no writable mount")
	}
	return best, nil
}
