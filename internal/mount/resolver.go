package mount

import (
	"context"
	gopath "path"
	"strings"

	"github.com/tarbox/tarbox/internal/publish"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// ResolvedSource is the closed union of concrete targets a virtual path can
// land on after resolution.
type ResolvedSource interface {
	resolvedSource()
}

// HostSource is a path rewritten onto a host filesystem base.
type HostSource struct {
	FullPath string
}

// LayerSource is a frozen snapshot the caller reads through, possibly owned
// by another tenant via a publication.
type LayerSource struct {
	OwnerTenant types.TenantID
	LayerID     types.LayerID
	Subpath     string
}

// WorkingLayerSource is the mount's live layer: read via the union view,
// written via the copy-on-write writer.
type WorkingLayerSource struct {
	LayerID types.LayerID
}

func (HostSource) resolvedSource()         {}
func (LayerSource) resolvedSource()        {}
func (WorkingLayerSource) resolvedSource() {}

// Resolved is the outcome of path resolution.
type Resolved struct {
	Entry    types.MountEntry
	RelPath  string
	Source   ResolvedSource
	HookPath bool
}

// Resolver maps a tenant-qualified virtual path onto a mount entry and a
// concrete source. The reserved hook prefix short-circuits before any mount
// lookup.
type Resolver struct {
	db         *store.DB
	registry   *publish.Registry
	hookPrefix string
}

// NewResolver builds a resolver.
func NewResolver(db *store.DB, registry *publish.Registry, hookPrefix string) *Resolver {
	return &Resolver{db: db, registry: registry, hookPrefix: hookPrefix}
}

// HookPrefix returns the reserved control prefix.
func (r *Resolver) HookPrefix() string {
	return r.hookPrefix
}

// IsHookPath reports whether the path falls under the reserved prefix.
func (r *Resolver) IsHookPath(p string) bool {
	return p == r.hookPrefix || strings.HasPrefix(p, r.hookPrefix+"/")
}

// Resolve canonicalizes the path and selects the enabled mount entry whose
// virtual path is the longest prefix of it (exact match for file mounts). The
// suffix becomes the relative path.
func (r *Resolver) Resolve(ctx context.Context, tenant types.TenantID, p string) (*Resolved, error) {
	canon, err := Canonicalize(p)
	if err != nil {
		return nil, err
	}
	if r.IsHookPath(canon) {
		return &Resolved{HookPath: true, RelPath: RelativeTo(r.hookPrefix, canon)}, nil
	}

	entries, err := repo.New(r.db.Handle()).Mounts.ListEnabled(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var best *types.MountEntry
	for i := range entries {
		e := &entries[i]
		if e.IsFile {
			if e.VirtualPath != canon {
				continue
			}
		} else if !IsPathPrefix(e.VirtualPath, canon) {
			continue
		}
		if best == nil || len(e.VirtualPath) > len(best.VirtualPath) {
			best = e
		}
	}
	if best == nil {
		return nil, errors.NotFound(canon)
	}

	resolved := &Resolved{
		Entry:   *best,
		RelPath: RelativeTo(best.VirtualPath, canon),
	}
	if err := r.resolveSource(ctx, tenant, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *Resolver) resolveSource(ctx context.Context, tenant types.TenantID, resolved *Resolved) error {
	e := &resolved.Entry
	switch e.SourceKind {
	case types.SourceHost:
		resolved.Source = HostSource{FullPath: gopath.Join(e.HostPath, resolved.RelPath)}
		return nil

	case types.SourceLayer:
		if e.SourceMountID == nil || e.SourceLayerID == nil {
			return errors.Newf(errors.KindInvalidArgument, "mount %s has no layer reference", e.Name)
		}
		// The reference names a (mount entry of some tenant, layer id) pair;
		// the owning tenant comes from the referenced mount, and the layer
		// must belong to that mount's chain.
		rp := repo.New(r.db.Handle())
		srcMount, err := rp.Mounts.Get(ctx, *e.SourceMountID)
		if err != nil {
			return err
		}
		l, err := rp.Layers.Get(ctx, *e.SourceLayerID)
		if err != nil {
			return err
		}
		if l.MountID == nil || *l.MountID != srcMount.ID {
			return errors.Newf(errors.KindNotFound,
				"layer %s does not belong to mount %s", l.ID, srcMount.Name)
		}
		resolved.Source = LayerSource{
			OwnerTenant: srcMount.TenantID,
			LayerID:     l.ID,
			Subpath:     joinSubpath(e.SourceSubpath, resolved.RelPath),
		}
		return nil

	case types.SourcePublished:
		res, err := r.registry.ResolveAccess(ctx, tenant, e.PublicationName)
		if err != nil {
			return err
		}
		resolved.Source = LayerSource{
			OwnerTenant: res.OwnerTenant,
			LayerID:     res.LayerID,
			Subpath:     joinSubpath(e.SourceSubpath, resolved.RelPath),
		}
		return nil

	case types.SourceWorkingLayer:
		working, err := repo.New(r.db.Handle()).Layers.GetWorking(ctx, e.ID)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return errors.Newf(errors.KindNotFound, "mount %s has no working layer", e.Name)
			}
			return err
		}
		resolved.Source = WorkingLayerSource{LayerID: working.ID}
		return nil

	default:
		return errors.Newf(errors.KindInvalidArgument, "unknown source kind %q", e.SourceKind)
	}
}

func joinSubpath(subpath, rel string) string {
	if subpath == "" {
		return rel
	}
	return gopath.Join(subpath, rel)
}
