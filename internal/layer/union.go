package layer

import (
	"context"

	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// View is the read-time composition of a layer chain: the latest
// non-tombstoned version of each path wins. A view never mutates state.
//
// The chain is ordered newest to oldest, starting at the layer the view was
// built for and ending at the base. It is materialized on demand by walking
// parent links; no back-edge cache exists to go stale.
type View struct {
	chain []types.Layer
}

// NewView builds a view rooted at the given layer by walking parents to the
// base.
func NewView(ctx context.Context, r *repo.Repos, start types.LayerID) (*View, error) {
	var chain []types.Layer
	next := &start
	for next != nil {
		l, err := r.Layers.Get(ctx, *next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *l)
		next = l.ParentID
		if len(chain) > 10000 {
			return nil, errors.New(errors.KindOther, "layer chain has a cycle")
		}
	}
	return &View{chain: chain}, nil
}

// Layers returns the chain newest to oldest.
func (v *View) Layers() []types.Layer {
	return v.chain
}

// Lookup resolves a path: the first entry found walking toward the base
// decides, with a delete entry tombstoning everything below it.
func (v *View) Lookup(ctx context.Context, r *repo.Repos, path string) (types.FileState, error) {
	for _, l := range v.chain {
		e, err := r.Entries.Get(ctx, l.ID, path)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return types.FileState{}, err
		}
		if e.ChangeKind == types.ChangeDelete {
			return types.FileState{Kind: types.FileStateDeleted, LayerID: l.ID, Entry: e}, nil
		}
		return types.FileState{Kind: types.FileStateExists, InodeID: e.InodeID, LayerID: l.ID, Entry: e}, nil
	}
	return types.FileState{Kind: types.FileStateNotFound}, nil
}

// ListDirectory merges the direct children of dir across the chain. For each
// name the newest change wins; a delete entry acts as a whiteout and removes
// the name from the accumulated set.
func (v *View) ListDirectory(ctx context.Context, r *repo.Repos, dir string) ([]types.LayerEntry, error) {
	decided := make(map[string]types.LayerEntry)
	for _, l := range v.chain {
		entries, err := r.Entries.ListChildrenInLayer(ctx, l.ID, dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, seen := decided[e.Path]; !seen {
				decided[e.Path] = e
			}
		}
	}

	var out []types.LayerEntry
	for _, e := range decided {
		if e.ChangeKind != types.ChangeDelete {
			out = append(out, e)
		}
	}
	return out, nil
}

// FileHistory traverses the chain top-down and emits a version for every
// entry referencing the path.
func (v *View) FileHistory(ctx context.Context, r *repo.Repos, path string) ([]types.FileVersion, error) {
	var versions []types.FileVersion
	for _, l := range v.chain {
		e, err := r.Entries.Get(ctx, l.ID, path)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return nil, err
		}
		versions = append(versions, types.FileVersion{
			Layer:         l,
			InodeSnapshot: e.InodeID,
			ChangeKind:    e.ChangeKind,
		})
	}
	return versions, nil
}

// FindLayer returns the chain layer nearest the working end carrying a
// non-delete entry for the path.
func (v *View) FindLayer(ctx context.Context, r *repo.Repos, path string) (*types.Layer, error) {
	for _, l := range v.chain {
		e, err := r.Entries.Get(ctx, l.ID, path)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if e.ChangeKind != types.ChangeDelete {
			layer := l
			return &layer, nil
		}
	}
	return nil, errors.NotFound(path)
}
