package filesystem

import (
	"context"
	"database/sql"
	"os"
	gopath "path"
	"time"

	"github.com/tarbox/tarbox/internal/cow"
	"github.com/tarbox/tarbox/internal/layer"
	"github.com/tarbox/tarbox/internal/mount"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// Session is the tenant-scoped implementation of FilesystemInterface. Each
// store step runs in a database transaction, cancellable until commit, with
// Unavailable failures retried by the backend's policy. Truncate and Rename are
// composites of separate read, write and unlink steps, each committed on its
// own; they are not atomic as a whole.
type Session struct {
	backend *Backend
	tenant  types.TenantID
}

var _ FilesystemInterface = (*Session)(nil)

// Tenant returns the session's tenant.
func (s *Session) Tenant() types.TenantID { return s.tenant }

// run applies the operation deadline, the retry policy, metrics, and the
// audit hook around one operation.
func (s *Session) run(ctx context.Context, op, path string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.backend.cfg.Timeouts.Operation)
	defer cancel()

	err := s.backend.retryer.Do(ctx, fn)
	s.backend.metrics.Observe(op, start, err)
	s.backend.recordAudit(s.tenant, op, path, err)
	return err
}

func (s *Session) resolve(ctx context.Context, path string) (*mount.Resolved, error) {
	return s.backend.resolver.Resolve(ctx, s.tenant, path)
}

// ReadFile returns the file's full contents.
func (s *Session) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.run(ctx, "read", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			data, err = s.backend.hooks.Read(ctx, s.tenant, res.RelPath)
			return err
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			data, err = readHostFile(src.FullPath)
			return err
		case mount.LayerSource:
			data, err = s.readLayer(ctx, src.OwnerTenant, src.LayerID, src.Subpath)
			return err
		case mount.WorkingLayerSource:
			data, err = s.readLayer(ctx, s.tenant, src.LayerID, res.RelPath)
			return err
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Session) readLayer(ctx context.Context, owner types.TenantID, start types.LayerID, rel string) ([]byte, error) {
	r := repo.New(s.backend.db.Handle())
	view, err := layer.NewView(ctx, r, start)
	if err != nil {
		return nil, err
	}
	st, err := view.Lookup(ctx, r, rel)
	if err != nil {
		return nil, err
	}
	if st.Kind != types.FileStateExists {
		return nil, errors.NotFound(rel)
	}
	ino, err := r.Inodes.Get(ctx, owner, st.InodeID)
	if err != nil {
		return nil, err
	}
	if ino.IsDir() {
		return nil, errors.IsDirectory(rel)
	}
	return cow.Read(ctx, r, owner, st.InodeID, st.LayerID)
}

// WriteFile stores data at path, routed through the copy-on-write writer for
// working-layer mounts.
func (s *Session) WriteFile(ctx context.Context, path string, data []byte) (*types.CowResult, error) {
	var result *types.CowResult
	err := s.run(ctx, "write", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			if _, err := s.backend.hooks.Write(ctx, s.tenant, res.RelPath, data); err != nil {
				return err
			}
			result = &types.CowResult{IsText: true, ChangeKind: types.ChangeModify, SizeDelta: int64(len(data))}
			return nil
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			result, err = s.writeHost(res, src, data)
			return err
		case mount.LayerSource:
			return errors.ReadOnly(path)
		case mount.WorkingLayerSource:
			result, err = s.writeWorking(ctx, res, src, data)
			return err
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Session) writeHost(res *mount.Resolved, src mount.HostSource, data []byte) (*types.CowResult, error) {
	if res.Entry.AccessMode == types.ModeReadOnly {
		return nil, errors.ReadOnly(res.Entry.VirtualPath)
	}
	_, statErr := os.Stat(src.FullPath)
	existed := statErr == nil
	if err := os.WriteFile(src.FullPath, data, 0o644); err != nil {
		return nil, mapHostError(err, src.FullPath)
	}
	det := s.backend.detector.Classify(data)
	kind := types.ChangeAdd
	if existed {
		kind = types.ChangeModify
	}
	return &types.CowResult{IsText: det.IsText, ChangeKind: kind, SizeDelta: int64(len(data))}, nil
}

func (s *Session) writeWorking(ctx context.Context, res *mount.Resolved, src mount.WorkingLayerSource, data []byte) (*types.CowResult, error) {
	if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
		return nil, err
	}

	var result *types.CowResult
	err := s.backend.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		view, err := layer.NewView(ctx, r, src.LayerID)
		if err != nil {
			return err
		}
		st, err := view.Lookup(ctx, r, res.RelPath)
		if err != nil {
			return err
		}

		var ino *types.Inode
		var prev []byte
		prevExists := false
		if st.Kind == types.FileStateExists {
			if ino, err = r.Inodes.Get(ctx, s.tenant, st.InodeID); err != nil {
				return err
			}
			if ino.IsDir() {
				return errors.IsDirectory(res.RelPath)
			}
			if prev, err = cow.Read(ctx, r, s.tenant, st.InodeID, st.LayerID); err != nil {
				return err
			}
			prevExists = true
		} else {
			full := gopath.Join(res.Entry.VirtualPath, res.RelPath)
			if ino, err = s.ensureInode(ctx, r, full, types.FileKindFile, 0o644); err != nil {
				return err
			}
			if ino.IsDir() {
				return errors.IsDirectory(res.RelPath)
			}
		}

		result, err = s.backend.writer.Write(ctx, r, ino, res.RelPath, data, prev, prevExists, src.LayerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkWritable enforces the mount mode and the working layer's read-only
// flag (a historical position re-activated by switch rejects writes).
func (s *Session) checkWritable(ctx context.Context, res *mount.Resolved, working types.LayerID) error {
	if res.Entry.AccessMode == types.ModeReadOnly {
		return errors.ReadOnly(res.Entry.VirtualPath)
	}
	l, err := repo.New(s.backend.db.Handle()).Layers.Get(ctx, working)
	if err != nil {
		return err
	}
	if l.ReadOnly {
		return errors.ReadOnly(res.Entry.VirtualPath)
	}
	return nil
}

// ensureInode walks the full virtual path from the tenant root, creating any
// missing intermediate directory inodes, and returns the final component's
// inode (created with the given kind when absent).
func (s *Session) ensureInode(ctx context.Context, r *repo.Repos, full string, kind types.FileKind, mode uint32) (*types.Inode, error) {
	tenant, err := r.Tenants.GetByID(ctx, s.tenant)
	if err != nil {
		return nil, err
	}
	parent := tenant.RootInode
	components := splitComponents(full)
	now := time.Now().UTC()

	for i, name := range components {
		last := i == len(components)-1
		child, err := r.Inodes.GetChild(ctx, s.tenant, parent, name)
		switch {
		case err == nil:
			if !last && !child.IsDir() {
				return nil, errors.NotDirectory(name)
			}
			if last {
				return child, nil
			}
			parent = child.ID
		case errors.IsKind(err, errors.KindNotFound):
			id, err := r.Inodes.NextID(ctx, s.tenant)
			if err != nil {
				return nil, err
			}
			k, m := types.FileKindDirectory, uint32(0o755)
			if last {
				k, m = kind, mode
			}
			p := parent
			ino := &types.Inode{
				TenantID: s.tenant, ID: id, ParentID: &p, Name: name,
				Kind: k, Mode: m, Atime: now, Mtime: now, Ctime: now,
			}
			if err := r.Inodes.Create(ctx, ino); err != nil {
				return nil, err
			}
			if last {
				return ino, nil
			}
			parent = id
		default:
			return nil, err
		}
	}
	// The path resolved to the root itself.
	return r.Inodes.Get(ctx, s.tenant, tenant.RootInode)
}

// CreateFile creates an empty file; an existing path fails AlreadyExists.
func (s *Session) CreateFile(ctx context.Context, path string, mode os.FileMode) error {
	return s.run(ctx, "create", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			return errors.PermissionDenied(path)
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			if res.Entry.AccessMode == types.ModeReadOnly {
				return errors.ReadOnly(path)
			}
			f, err := os.OpenFile(src.FullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
			if err != nil {
				return mapHostError(err, src.FullPath)
			}
			return f.Close()
		case mount.LayerSource:
			return errors.ReadOnly(path)
		case mount.WorkingLayerSource:
			if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
				return err
			}
			return s.backend.db.WithTx(ctx, func(tx *sql.Tx) error {
				r := repo.New(tx)
				view, err := layer.NewView(ctx, r, src.LayerID)
				if err != nil {
					return err
				}
				st, err := view.Lookup(ctx, r, res.RelPath)
				if err != nil {
					return err
				}
				if st.Kind == types.FileStateExists {
					return errors.AlreadyExists(path)
				}
				full := gopath.Join(res.Entry.VirtualPath, res.RelPath)
				ino, err := s.ensureInode(ctx, r, full, types.FileKindFile, uint32(mode.Perm()))
				if err != nil {
					return err
				}
				_, err = s.backend.writer.Write(ctx, r, ino, res.RelPath, nil, nil, false, src.LayerID)
				return err
			})
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
}

// DeleteFile unlinks a file: the working layer records a whiteout and the
// inode is removed, or detached when frozen layers still reference the path.
func (s *Session) DeleteFile(ctx context.Context, path string) error {
	return s.run(ctx, "delete", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			return errors.PermissionDenied(path)
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			if res.Entry.AccessMode == types.ModeReadOnly {
				return errors.ReadOnly(path)
			}
			if err := os.Remove(src.FullPath); err != nil {
				return mapHostError(err, src.FullPath)
			}
			return nil
		case mount.LayerSource:
			return errors.ReadOnly(path)
		case mount.WorkingLayerSource:
			if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
				return err
			}
			return s.deleteWorking(ctx, res, src, false)
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
}

func (s *Session) deleteWorking(ctx context.Context, res *mount.Resolved, src mount.WorkingLayerSource, wantDir bool) error {
	return s.backend.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		view, err := layer.NewView(ctx, r, src.LayerID)
		if err != nil {
			return err
		}
		st, err := view.Lookup(ctx, r, res.RelPath)
		if err != nil {
			return err
		}
		if st.Kind != types.FileStateExists {
			return errors.NotFound(res.RelPath)
		}
		ino, err := r.Inodes.Get(ctx, s.tenant, st.InodeID)
		if err != nil {
			return err
		}
		if wantDir != ino.IsDir() {
			if ino.IsDir() {
				return errors.IsDirectory(res.RelPath)
			}
			return errors.NotDirectory(res.RelPath)
		}
		if wantDir {
			children, err := view.ListDirectory(ctx, r, res.RelPath)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return errors.NotEmpty(res.RelPath)
			}
		}

		history, err := view.FileHistory(ctx, r, res.RelPath)
		if err != nil {
			return err
		}
		frozenRefs := false
		for _, v := range history {
			if v.Layer.ID != src.LayerID && v.ChangeKind != types.ChangeDelete {
				frozenRefs = true
				break
			}
		}

		if err := s.backend.writer.Delete(ctx, r, ino, res.RelPath, src.LayerID); err != nil {
			return err
		}
		if frozenRefs {
			return r.Inodes.Detach(ctx, s.tenant, ino.ID)
		}
		return r.Inodes.Delete(ctx, s.tenant, ino.ID)
	})
}

// Truncate resizes a file, extending with zero bytes when it grows.
func (s *Session) Truncate(ctx context.Context, path string, size int64) error {
	if size < 0 {
		return errors.New(errors.KindInvalidArgument, "negative truncate size")
	}
	data, err := s.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	if int64(len(data)) == size {
		return nil
	}
	if int64(len(data)) > size {
		data = data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
	}
	_, err = s.WriteFile(ctx, path, data)
	return err
}

// Rename moves a file within one mount as read-write-unlink. Directories and
// cross-mount renames are not supported by this core.
func (s *Session) Rename(ctx context.Context, oldPath, newPath string) error {
	return s.run(ctx, "rename", oldPath, func(ctx context.Context) error {
		oldRes, err := s.resolve(ctx, oldPath)
		if err != nil {
			return err
		}
		newRes, err := s.resolve(ctx, newPath)
		if err != nil {
			return err
		}
		if oldRes.HookPath || newRes.HookPath {
			return errors.PermissionDenied(oldPath)
		}
		if oldRes.Entry.ID != newRes.Entry.ID {
			return errors.NotSupported("cross-mount rename")
		}
		if src, ok := oldRes.Source.(mount.HostSource); ok {
			if oldRes.Entry.AccessMode == types.ModeReadOnly {
				return errors.ReadOnly(oldPath)
			}
			dst := newRes.Source.(mount.HostSource)
			if err := os.Rename(src.FullPath, dst.FullPath); err != nil {
				return mapHostError(err, src.FullPath)
			}
			return nil
		}

		data, err := s.readResolved(ctx, oldRes)
		if err != nil {
			return err
		}
		if _, err := s.writeResolved(ctx, newRes, data); err != nil {
			return err
		}
		return s.deleteResolved(ctx, oldRes)
	})
}

func (s *Session) readResolved(ctx context.Context, res *mount.Resolved) ([]byte, error) {
	switch src := res.Source.(type) {
	case mount.LayerSource:
		return s.readLayer(ctx, src.OwnerTenant, src.LayerID, src.Subpath)
	case mount.WorkingLayerSource:
		return s.readLayer(ctx, s.tenant, src.LayerID, res.RelPath)
	}
	return nil, errors.New(errors.KindOther, "unhandled source")
}

func (s *Session) writeResolved(ctx context.Context, res *mount.Resolved, data []byte) (*types.CowResult, error) {
	src, ok := res.Source.(mount.WorkingLayerSource)
	if !ok {
		return nil, errors.ReadOnly(res.Entry.VirtualPath)
	}
	return s.writeWorking(ctx, res, src, data)
}

func (s *Session) deleteResolved(ctx context.Context, res *mount.Resolved) error {
	src, ok := res.Source.(mount.WorkingLayerSource)
	if !ok {
		return errors.ReadOnly(res.Entry.VirtualPath)
	}
	if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
		return err
	}
	return s.deleteWorking(ctx, res, src, false)
}

// Mkdir creates a directory.
func (s *Session) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return s.run(ctx, "mkdir", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			return errors.PermissionDenied(path)
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			if res.Entry.AccessMode == types.ModeReadOnly {
				return errors.ReadOnly(path)
			}
			if err := os.Mkdir(src.FullPath, mode); err != nil {
				return mapHostError(err, src.FullPath)
			}
			return nil
		case mount.LayerSource:
			return errors.ReadOnly(path)
		case mount.WorkingLayerSource:
			if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
				return err
			}
			return s.backend.db.WithTx(ctx, func(tx *sql.Tx) error {
				r := repo.New(tx)
				view, err := layer.NewView(ctx, r, src.LayerID)
				if err != nil {
					return err
				}
				st, err := view.Lookup(ctx, r, res.RelPath)
				if err != nil {
					return err
				}
				if st.Kind == types.FileStateExists {
					return errors.AlreadyExists(path)
				}
				full := gopath.Join(res.Entry.VirtualPath, res.RelPath)
				ino, err := s.ensureInode(ctx, r, full, types.FileKindDirectory, uint32(mode.Perm()))
				if err != nil {
					return err
				}
				if !ino.IsDir() {
					return errors.NotDirectory(res.RelPath)
				}
				return r.Entries.Upsert(ctx, &types.LayerEntry{
					LayerID:    src.LayerID,
					Path:       res.RelPath,
					InodeID:    ino.ID,
					ChangeKind: types.ChangeAdd,
				})
			})
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
}

// ReadDir lists a directory: merged union entries for layered sources, host
// entries for passthrough, with nested mount points overlaid as directories.
func (s *Session) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	var out []types.DirEntry
	err := s.run(ctx, "readdir", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			out, err = s.backend.hooks.List(ctx, s.tenant, res.RelPath)
			return err
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			out, err = readHostDir(src.FullPath)
		case mount.LayerSource:
			out, err = s.listLayer(ctx, src.OwnerTenant, src.LayerID, src.Subpath)
		case mount.WorkingLayerSource:
			out, err = s.listLayer(ctx, s.tenant, src.LayerID, res.RelPath)
		default:
			return errors.New(errors.KindOther, "unhandled source")
		}
		if err != nil {
			return err
		}
		overlay, err := s.mountOverlay(ctx, path)
		if err != nil {
			return err
		}
		out = append(out, overlay...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) listLayer(ctx context.Context, owner types.TenantID, start types.LayerID, dir string) ([]types.DirEntry, error) {
	r := repo.New(s.backend.db.Handle())
	view, err := layer.NewView(ctx, r, start)
	if err != nil {
		return nil, err
	}
	entries, err := view.ListDirectory(ctx, r, dir)
	if err != nil {
		return nil, err
	}
	out := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		ino, err := r.Inodes.Get(ctx, owner, e.InodeID)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, types.DirEntry{
			Name: gopath.Base(e.Path),
			Kind: ino.Kind,
			Attr: attrFromInode(ino),
		})
	}
	return out, nil
}

// mountOverlay adds the tenant's nested mount points that sit directly under
// the listed directory.
func (s *Session) mountOverlay(ctx context.Context, dir string) ([]types.DirEntry, error) {
	canon, err := mount.Canonicalize(dir)
	if err != nil {
		return nil, err
	}
	entries, err := repo.New(s.backend.db.Handle()).Mounts.ListEnabled(ctx, s.tenant)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []types.DirEntry
	for _, e := range entries {
		if e.VirtualPath == canon || gopath.Dir(e.VirtualPath) != canon {
			continue
		}
		kind := types.FileKindDirectory
		mode := uint32(0o755)
		if e.IsFile {
			kind = types.FileKindFile
			mode = 0o644
		}
		out = append(out, types.DirEntry{
			Name: gopath.Base(e.VirtualPath),
			Kind: kind,
			Attr: types.FileAttr{Kind: kind, Mode: mode, Atime: now, Mtime: now, Ctime: now},
		})
	}
	return out, nil
}

// Rmdir removes an empty directory.
func (s *Session) Rmdir(ctx context.Context, path string) error {
	return s.run(ctx, "rmdir", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			return errors.PermissionDenied(path)
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			if res.Entry.AccessMode == types.ModeReadOnly {
				return errors.ReadOnly(path)
			}
			if err := os.Remove(src.FullPath); err != nil {
				return mapHostError(err, src.FullPath)
			}
			return nil
		case mount.LayerSource:
			return errors.ReadOnly(path)
		case mount.WorkingLayerSource:
			if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
				return err
			}
			return s.deleteWorking(ctx, res, src, true)
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
}

// GetAttr returns the file attributes of a path.
func (s *Session) GetAttr(ctx context.Context, path string) (*types.FileAttr, error) {
	var attr *types.FileAttr
	err := s.run(ctx, "getattr", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			attr, err = s.backend.hooks.GetAttr(res.RelPath)
			return err
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			attr, err = statHost(src.FullPath)
			return err
		case mount.LayerSource:
			attr, err = s.attrLayer(ctx, src.OwnerTenant, src.LayerID, src.Subpath)
			return err
		case mount.WorkingLayerSource:
			attr, err = s.attrLayer(ctx, s.tenant, src.LayerID, res.RelPath)
			return err
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
	if err != nil {
		return nil, err
	}
	return attr, nil
}

func (s *Session) attrLayer(ctx context.Context, owner types.TenantID, start types.LayerID, rel string) (*types.FileAttr, error) {
	r := repo.New(s.backend.db.Handle())
	view, err := layer.NewView(ctx, r, start)
	if err != nil {
		return nil, err
	}
	if rel == "/" {
		return syntheticDirAttr(), nil
	}
	st, err := view.Lookup(ctx, r, rel)
	if err != nil {
		return nil, err
	}
	switch st.Kind {
	case types.FileStateExists:
		ino, err := r.Inodes.Get(ctx, owner, st.InodeID)
		if err != nil {
			return nil, err
		}
		attr := attrFromInode(ino)
		return &attr, nil
	case types.FileStateDeleted:
		return nil, errors.NotFound(rel)
	}
	// Paths with children but no entry of their own are implicit directories.
	children, err := view.ListDirectory(ctx, r, rel)
	if err != nil {
		return nil, err
	}
	if len(children) > 0 {
		return syntheticDirAttr(), nil
	}
	return nil, errors.NotFound(rel)
}

// SetAttr applies the populated attribute fields.
func (s *Session) SetAttr(ctx context.Context, path string, req types.SetAttrRequest) error {
	return s.run(ctx, "setattr", path, func(ctx context.Context) error {
		res, err := s.resolve(ctx, path)
		if err != nil {
			return err
		}
		if res.HookPath {
			return errors.PermissionDenied(path)
		}
		switch src := res.Source.(type) {
		case mount.HostSource:
			return setHostAttr(res, src, req)
		case mount.LayerSource:
			return errors.ReadOnly(path)
		case mount.WorkingLayerSource:
			if err := s.checkWritable(ctx, res, src.LayerID); err != nil {
				return err
			}
			return s.backend.db.WithTx(ctx, func(tx *sql.Tx) error {
				r := repo.New(tx)
				view, err := layer.NewView(ctx, r, src.LayerID)
				if err != nil {
					return err
				}
				st, err := view.Lookup(ctx, r, res.RelPath)
				if err != nil {
					return err
				}
				if st.Kind != types.FileStateExists {
					return errors.NotFound(path)
				}
				return r.Inodes.SetAttr(ctx, s.tenant, st.InodeID, req)
			})
		}
		return errors.New(errors.KindOther, "unhandled source")
	})
}

// Chmod changes the permission bits.
func (s *Session) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	m := uint32(mode.Perm())
	return s.SetAttr(ctx, path, types.SetAttrRequest{Mode: &m})
}

// Chown changes the owner.
func (s *Session) Chown(ctx context.Context, path string, uid, gid int) error {
	u, g := uint32(uid), uint32(gid)
	return s.SetAttr(ctx, path, types.SetAttrRequest{UID: &u, GID: &g})
}

// Statfs reports filesystem statistics for the tenant.
func (s *Session) Statfs(ctx context.Context) (*types.StatfsInfo, error) {
	var info *types.StatfsInfo
	err := s.run(ctx, "statfs", "/", func(ctx context.Context) error {
		var err error
		info, err = repo.New(s.backend.db.Handle()).Stats.Statfs(ctx, s.tenant)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Symlink is not implemented by this core.
func (s *Session) Symlink(ctx context.Context, target, linkPath string) error {
	return errors.NotSupported("symlink")
}

// Readlink is not implemented by this core.
func (s *Session) Readlink(ctx context.Context, path string) (string, error) {
	return "", errors.NotSupported("readlink")
}

// Link is not implemented by this core; hard links are a non-goal.
func (s *Session) Link(ctx context.Context, oldPath, newPath string) error {
	return errors.NotSupported("hard link")
}

// GetXattr is not implemented by this core.
func (s *Session) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	return nil, errors.NotSupported("xattr")
}

// SetXattr is not implemented by this core.
func (s *Session) SetXattr(ctx context.Context, path, name string, data []byte) error {
	return errors.NotSupported("xattr")
}

func attrFromInode(ino *types.Inode) types.FileAttr {
	return types.FileAttr{
		Kind:  ino.Kind,
		Mode:  ino.Mode,
		UID:   ino.UID,
		GID:   ino.GID,
		Size:  ino.Size,
		Atime: ino.Atime,
		Mtime: ino.Mtime,
		Ctime: ino.Ctime,
	}
}

func syntheticDirAttr() *types.FileAttr {
	now := time.Now().UTC()
	return &types.FileAttr{
		Kind: types.FileKindDirectory, Mode: 0o755,
		Atime: now, Mtime: now, Ctime: now,
	}
}

func splitComponents(full string) []string {
	var out []string
	for _, part := range splitPath(full) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitPath(p string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	return parts
}
