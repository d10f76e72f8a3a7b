// Package hooks implements the reserved control namespace: a virtual subtree,
// backed by no inode rows, that exposes layer state as readable JSON files
// and accepts layer control as JSON writes. The hook surface is a filesystem;
// no separate control API exists.
package hooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tarbox/tarbox/internal/layer"
	"github.com/tarbox/tarbox/internal/mount"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/log"
	"github.com/tarbox/tarbox/pkg/types"
)

// Handler serves the hook namespace for all tenants. Paths handed to it are
// relative to the reserved prefix.
type Handler struct {
	db     *store.DB
	layers *layer.Manager
	mounts *mount.Composer
}

// NewHandler builds the hook handler.
func NewHandler(db *store.DB, layers *layer.Manager, mounts *mount.Composer) *Handler {
	return &Handler{db: db, layers: layers, mounts: mounts}
}

// layerDoc is the wire form of one layer.
type layerDoc struct {
	LayerID       string     `json:"layer_id"`
	Name          string     `json:"name"`
	IsWorking     bool       `json:"is_working"`
	ParentLayerID *string    `json:"parent_layer_id"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

type layerTreeDoc struct {
	layerDoc
	Children []layerTreeDoc `json:"children"`
}

func docFor(l *types.Layer, withTime bool) layerDoc {
	d := layerDoc{
		LayerID:   l.ID.String(),
		Name:      l.Name,
		IsWorking: l.IsWorking,
	}
	if l.ParentID != nil {
		s := l.ParentID.String()
		d.ParentLayerID = &s
	}
	if withTime {
		t := l.CreatedAt
		d.CreatedAt = &t
	}
	return d
}

// Read serves the readable hook files.
func (h *Handler) Read(ctx context.Context, tenant types.TenantID, rel string) ([]byte, error) {
	switch rel {
	case "/layers/current":
		working, _, err := h.currentMount(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return marshal(docFor(working, false))

	case "/layers/list":
		chain, err := h.chain(ctx, tenant)
		if err != nil {
			return nil, err
		}
		docs := make([]layerDoc, 0, len(chain))
		for i := range chain {
			docs = append(docs, docFor(&chain[i], true))
		}
		return marshal(docs)

	case "/layers/tree":
		chain, err := h.chain(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return marshal(buildTree(chain))

	case "/layers/diff":
		working, _, err := h.currentMount(ctx, tenant)
		if err != nil {
			return nil, err
		}
		entries, err := repo.New(h.db.Handle()).Entries.ListByLayer(ctx, working.ID)
		if err != nil {
			return nil, err
		}
		return marshal(entries)

	case "/stats/usage":
		usage, err := repo.New(h.db.Handle()).Stats.Usage(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return marshal(usage)
	}

	if name, ok := snapshotName(rel); ok {
		return h.readSnapshot(ctx, tenant, name)
	}
	return nil, errors.NotFound(rel)
}

// Write dispatches a control write and returns the response document.
func (h *Handler) Write(ctx context.Context, tenant types.TenantID, rel string, data []byte) ([]byte, error) {
	switch rel {
	case "/layers/new":
		return h.createCheckpoint(ctx, tenant, data)
	case "/layers/switch":
		return h.switchLayer(ctx, tenant, data)
	case "/layers/drop":
		return h.dropLayer(ctx, tenant, data)
	}
	return nil, errors.PermissionDenied(rel)
}

func (h *Handler) createCheckpoint(ctx context.Context, tenant types.TenantID, data []byte) ([]byte, error) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Confirm     bool   `json:"confirm"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(errors.KindInvalidArgument, "malformed checkpoint request", err)
	}
	if req.Name == "" {
		return nil, errors.New(errors.KindInvalidArgument, "checkpoint request needs a name")
	}
	mnt, err := h.mounts.DefaultWritableMount(ctx, tenant)
	if err != nil {
		return nil, err
	}
	fresh, err := h.layers.CreateCheckpointWithConfirm(ctx, mnt.ID, req.Name, req.Description, req.Confirm)
	if err != nil {
		return nil, err
	}
	hooksLogger := log.WithComponent("hooks")
	hooksLogger.Info().Str("name", req.Name).Msg("checkpoint created")
	return marshal(docFor(fresh, false))
}

func (h *Handler) switchLayer(ctx context.Context, tenant types.TenantID, data []byte) ([]byte, error) {
	var req struct {
		Layer string `json:"layer"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(errors.KindInvalidArgument, "malformed switch request", err)
	}
	mnt, err := h.mounts.DefaultWritableMount(ctx, tenant)
	if err != nil {
		return nil, err
	}
	target, err := h.lookupLayer(ctx, mnt.ID, req.Layer)
	if err != nil {
		return nil, err
	}
	switched, err := h.layers.Switch(ctx, mnt.ID, target.ID)
	if err != nil {
		return nil, err
	}
	return marshal(docFor(switched, false))
}

func (h *Handler) dropLayer(ctx context.Context, tenant types.TenantID, data []byte) ([]byte, error) {
	var req struct {
		Layer   string `json:"layer"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(errors.KindInvalidArgument, "malformed drop request", err)
	}
	mnt, err := h.mounts.DefaultWritableMount(ctx, tenant)
	if err != nil {
		return nil, err
	}
	target, err := h.lookupLayer(ctx, mnt.ID, req.Layer)
	if err != nil {
		return nil, err
	}
	if err := h.layers.Delete(ctx, mnt.ID, target.ID); err != nil {
		return nil, err
	}
	return marshal(map[string]string{"deleted": target.ID.String()})
}

// lookupLayer accepts a layer reference by uuid or by name.
func (h *Handler) lookupLayer(ctx context.Context, mnt types.MountID, ref string) (*types.Layer, error) {
	if ref == "" {
		return nil, errors.New(errors.KindInvalidArgument, "layer reference must not be empty")
	}
	r := repo.New(h.db.Handle())
	if id, err := parseLayerID(ref); err == nil {
		l, err := r.Layers.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return r.Layers.GetByName(ctx, mnt, ref)
}

// GetAttr reports kind and mode for a hook path: directories 0555, files 0444.
func (h *Handler) GetAttr(rel string) (*types.FileAttr, error) {
	now := time.Now().UTC()
	attr := types.FileAttr{UID: 0, GID: 0, Atime: now, Mtime: now, Ctime: now}
	switch rel {
	case "/", "", "/layers", "/snapshots", "/stats":
		attr.Kind = types.FileKindDirectory
		attr.Mode = 0o555
		return &attr, nil
	case "/layers/current", "/layers/list", "/layers/tree", "/layers/diff",
		"/layers/new", "/layers/switch", "/layers/drop", "/stats/usage":
		attr.Kind = types.FileKindFile
		attr.Mode = 0o444
		return &attr, nil
	}
	if _, ok := snapshotName(rel); ok {
		attr.Kind = types.FileKindFile
		attr.Mode = 0o444
		return &attr, nil
	}
	return nil, errors.NotFound(rel)
}

// List serves the hook directory listings.
func (h *Handler) List(ctx context.Context, tenant types.TenantID, rel string) ([]types.DirEntry, error) {
	switch rel {
	case "/", "":
		return dirEntries("layers", "snapshots", "stats"), nil
	case "/layers":
		return fileEntries("current", "list", "tree", "diff", "new", "switch", "drop"), nil
	case "/stats":
		return fileEntries("usage"), nil
	case "/snapshots":
		chain, err := h.chain(ctx, tenant)
		if err != nil {
			return nil, err
		}
		var names []string
		for i := range chain {
			if chain[i].ReadOnly {
				names = append(names, chain[i].Name)
			}
		}
		return fileEntries(names...), nil
	}
	return nil, errors.NotFound(rel)
}

func (h *Handler) readSnapshot(ctx context.Context, tenant types.TenantID, name string) ([]byte, error) {
	chain, err := h.chain(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for i := range chain {
		if chain[i].ReadOnly && chain[i].Name == name {
			return marshal(docFor(&chain[i], true))
		}
	}
	return nil, errors.NotFound("/snapshots/" + name)
}

func (h *Handler) currentMount(ctx context.Context, tenant types.TenantID) (*types.Layer, *types.MountEntry, error) {
	mnt, err := h.mounts.DefaultWritableMount(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	working, err := h.layers.CurrentLayer(ctx, mnt.ID)
	if err != nil {
		return nil, nil, err
	}
	return working, mnt, nil
}

func (h *Handler) chain(ctx context.Context, tenant types.TenantID) ([]types.Layer, error) {
	mnt, err := h.mounts.DefaultWritableMount(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return h.layers.ListLayers(ctx, mnt.ID)
}

// buildTree nests the linear chain from the base down: each layer carries its
// successor as its single child.
func buildTree(chain []types.Layer) []layerTreeDoc {
	if len(chain) == 0 {
		return nil
	}
	node := layerTreeDoc{layerDoc: docFor(&chain[len(chain)-1], true)}
	for i := len(chain) - 2; i >= 0; i-- {
		node = layerTreeDoc{
			layerDoc: docFor(&chain[i], true),
			Children: []layerTreeDoc{node},
		}
	}
	return []layerTreeDoc{node}
}

func marshal(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.KindOther, "marshal hook document", err)
	}
	return append(data, '\n'), nil
}

func dirEntries(names ...string) []types.DirEntry {
	return hookEntries(types.FileKindDirectory, 0o555, names)
}

func fileEntries(names ...string) []types.DirEntry {
	return hookEntries(types.FileKindFile, 0o444, names)
}

func hookEntries(kind types.FileKind, mode uint32, names []string) []types.DirEntry {
	now := time.Now().UTC()
	out := make([]types.DirEntry, 0, len(names))
	for _, n := range names {
		out = append(out, types.DirEntry{
			Name: n,
			Kind: kind,
			Attr: types.FileAttr{Kind: kind, Mode: mode, Atime: now, Mtime: now, Ctime: now},
		})
	}
	return out
}

func snapshotName(rel string) (string, bool) {
	const prefix = "/snapshots/"
	if len(rel) > len(prefix) && rel[:len(prefix)] == prefix {
		return rel[len(prefix):], true
	}
	return "", false
}

func parseLayerID(ref string) (types.LayerID, error) {
	return uuid.Parse(ref)
}
