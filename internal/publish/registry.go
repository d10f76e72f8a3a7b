// Package publish implements the publication registry: cross-tenant exposure
// of a mount by a globally unique name, pinned to a snapshot or tracking the
// publisher's live working layer, gated by public or allow-list scope.
package publish

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// Registry manages published mounts.
type Registry struct {
	db *store.DB
}

// NewRegistry builds a registry over the store.
func NewRegistry(db *store.DB) *Registry {
	return &Registry{db: db}
}

// PublishRequest carries the parameters of a publish call.
type PublishRequest struct {
	MountName     string
	Name          string
	Description   string
	Target        types.PublicationTarget
	PinnedLayerID *types.LayerID
	Scope         types.PublicationScope
	Allowed       []types.TenantID
}

// Publish exposes one of the caller's working-layer mounts under a global
// name. The name lives in a single global namespace: a taken name fails
// AlreadyExists.
func (g *Registry) Publish(ctx context.Context, caller types.TenantID, req PublishRequest) (*types.PublishedMount, error) {
	if req.Name == "" || len(req.Name) > 255 {
		return nil, errors.New(errors.KindInvalidArgument, "publication name must be 1-255 bytes")
	}
	if req.Target == types.TargetLayer && req.PinnedLayerID == nil {
		return nil, errors.New(errors.KindInvalidArgument, "target kind layer requires a pinned layer id")
	}
	if req.Target == types.TargetWorkingLayer && req.PinnedLayerID != nil {
		return nil, errors.New(errors.KindInvalidArgument, "target kind working_layer must not pin a layer")
	}

	var pub *types.PublishedMount
	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		mnt, err := r.Mounts.GetByName(ctx, caller, req.MountName)
		if err != nil {
			return err
		}
		if mnt.TenantID != caller {
			return errors.AccessDenied("mount belongs to another tenant")
		}
		if mnt.SourceKind != types.SourceWorkingLayer {
			return errors.Newf(errors.KindInvalidArgument,
				"mount %s is not a working-layer mount", req.MountName)
		}

		pub = &types.PublishedMount{
			ID:             uuid.New(),
			TenantID:       caller,
			MountEntryID:   mnt.ID,
			Name:           req.Name,
			Description:    req.Description,
			Target:         req.Target,
			PinnedLayerID:  req.PinnedLayerID,
			Scope:          req.Scope,
			AllowedTenants: req.Allowed,
			CreatedAt:      time.Now().UTC(),
		}
		return r.Publications.Create(ctx, pub)
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Unpublish removes the caller's publication.
func (g *Registry) Unpublish(ctx context.Context, caller types.TenantID, name string) error {
	return g.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		pub, err := r.Publications.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if pub.TenantID != caller {
			return errors.AccessDenied("only the owner may unpublish")
		}
		return r.Publications.Delete(ctx, pub.ID)
	})
}

// GetByName fetches a publication by global name. Unlike every other
// operation here, any tenant may call it.
func (g *Registry) GetByName(ctx context.Context, name string) (*types.PublishedMount, error) {
	return repo.New(g.db.Handle()).Publications.GetByName(ctx, name)
}

// List enumerates the caller's publications, optionally narrowed by scope.
// Listing another tenant's publications is denied; discovery of foreign
// publications goes through GetByName.
func (g *Registry) List(ctx context.Context, caller types.TenantID, filter repo.ListFilter) ([]types.PublishedMount, error) {
	if filter.Owner != nil && *filter.Owner != caller {
		return nil, errors.AccessDenied("only the owner may list its publications")
	}
	filter.Owner = &caller
	return repo.New(g.db.Handle()).Publications.List(ctx, filter)
}

// Update rewrites the description and scope of the caller's publication.
func (g *Registry) Update(ctx context.Context, caller types.TenantID, name, description string, scope types.PublicationScope) error {
	return g.ownerOp(ctx, caller, name, func(r *repo.Repos, pub *types.PublishedMount) error {
		return r.Publications.Update(ctx, pub.ID, description, scope)
	})
}

// AddAllowedTenant grants a tenant on the caller's publication.
func (g *Registry) AddAllowedTenant(ctx context.Context, caller types.TenantID, name string, tenant types.TenantID) error {
	return g.ownerOp(ctx, caller, name, func(r *repo.Repos, pub *types.PublishedMount) error {
		return r.Publications.AddAllowedTenant(ctx, pub.ID, tenant)
	})
}

// RemoveAllowedTenant revokes a tenant from the caller's publication. The
// revocation affects all subsequent accesses; in-flight handles are not
// forcibly closed.
func (g *Registry) RemoveAllowedTenant(ctx context.Context, caller types.TenantID, name string, tenant types.TenantID) error {
	return g.ownerOp(ctx, caller, name, func(r *repo.Repos, pub *types.PublishedMount) error {
		return r.Publications.RemoveAllowedTenant(ctx, pub.ID, tenant)
	})
}

func (g *Registry) ownerOp(ctx context.Context, caller types.TenantID, name string, fn func(*repo.Repos, *types.PublishedMount) error) error {
	return g.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		pub, err := r.Publications.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if pub.TenantID != caller {
			return errors.AccessDenied("only the owner may modify a publication")
		}
		return fn(r, pub)
	})
}

// Resolution is the concrete target a publication resolves to for a caller.
type Resolution struct {
	OwnerTenant types.TenantID
	MountID     types.MountID
	LayerID     types.LayerID
}

// ResolveAccess checks the caller against the publication's scope and
// resolves the target layer: the pinned snapshot for target kind layer, the
// publisher's current working layer otherwise, so readers see publisher
// writes as they happen.
func (g *Registry) ResolveAccess(ctx context.Context, caller types.TenantID, name string) (*Resolution, error) {
	r := repo.New(g.db.Handle())
	pub, err := r.Publications.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if pub.Scope == types.ScopeAllowList && pub.TenantID != caller {
		allowed := false
		for _, t := range pub.AllowedTenants {
			if t == caller {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, errors.AccessDenied("publication " + name + " does not admit this tenant")
		}
	}

	res := &Resolution{OwnerTenant: pub.TenantID, MountID: pub.MountEntryID}
	if pub.Target == types.TargetLayer {
		res.LayerID = *pub.PinnedLayerID
		return res, nil
	}
	working, err := r.Layers.GetWorking(ctx, pub.MountEntryID)
	if err != nil {
		return nil, err
	}
	res.LayerID = working.ID
	return res, nil
}
