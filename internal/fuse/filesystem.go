// Package fuse adapts the filesystem facade to kernel FUSE callbacks via
// hanwen/go-fuse. The adapter is deliberately thin: it translates protocol
// syntax into FilesystemInterface calls and error kinds into errnos; every
// semantic lives in the backend.
package fuse

import (
	"context"
	"os"
	gopath "path"
	"sync"
	"syscall"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tarbox/tarbox/internal/filesystem"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/log"
	"github.com/tarbox/tarbox/pkg/types"
)

// Mount mounts the session at dir and returns the serving handle.
func Mount(dir string, session filesystem.FilesystemInterface) (*fuse.Server, error) {
	root := &node{session: session, path: "/"}
	opts := &gofusefs.Options{}
	opts.FsName = "tarbox"
	opts.Name = "tarbox"
	server, err := gofusefs.Mount(dir, root, opts)
	if err != nil {
		return nil, err
	}
	fuseLogger := log.WithComponent("fuse")
	fuseLogger.Info().Str("dir", dir).Msg("mounted")
	return server, nil
}

// node is one path in the mounted tree.
type node struct {
	gofusefs.Inode

	session filesystem.FilesystemInterface
	path    string
}

var (
	_ gofusefs.NodeGetattrer = (*node)(nil)
	_ gofusefs.NodeSetattrer = (*node)(nil)
	_ gofusefs.NodeLookuper  = (*node)(nil)
	_ gofusefs.NodeReaddirer = (*node)(nil)
	_ gofusefs.NodeOpener    = (*node)(nil)
	_ gofusefs.NodeCreater   = (*node)(nil)
	_ gofusefs.NodeUnlinker  = (*node)(nil)
	_ gofusefs.NodeMkdirer   = (*node)(nil)
	_ gofusefs.NodeRmdirer   = (*node)(nil)
	_ gofusefs.NodeRenamer   = (*node)(nil)
)

func fsMode(m uint32) os.FileMode {
	return os.FileMode(m & 0o7777)
}

func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return errors.ErrnoForKind(errors.KindOf(err))
}

func fillAttr(attr *types.FileAttr, out *fuse.Attr) {
	out.Mode = attr.Mode
	switch attr.Kind {
	case types.FileKindDirectory:
		out.Mode |= syscall.S_IFDIR
	case types.FileKindSymlink:
		out.Mode |= syscall.S_IFLNK
	default:
		out.Mode |= syscall.S_IFREG
	}
	out.Size = uint64(attr.Size)
	out.Uid = attr.UID
	out.Gid = attr.GID
	out.SetTimes(&attr.Atime, &attr.Mtime, &attr.Ctime)
}

func (n *node) Getattr(ctx context.Context, fh gofusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.session.GetAttr(ctx, n.path)
	if err != nil {
		return errno(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

func (n *node) Setattr(ctx context.Context, fh gofusefs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var req types.SetAttrRequest
	if m, ok := in.GetMode(); ok {
		mode := m & 0o7777
		req.Mode = &mode
	}
	if uid, ok := in.GetUID(); ok {
		req.UID = &uid
	}
	if gid, ok := in.GetGID(); ok {
		req.GID = &gid
	}
	if size, ok := in.GetSize(); ok {
		s := int64(size)
		req.Size = &s
	}
	if atime, ok := in.GetATime(); ok {
		req.Atime = &atime
	}
	if mtime, ok := in.GetMTime(); ok {
		req.Mtime = &mtime
	}
	if req.Size != nil {
		if err := n.session.Truncate(ctx, n.path, *req.Size); err != nil {
			return errno(err)
		}
		req.Size = nil
	}
	if err := n.session.SetAttr(ctx, n.path, req); err != nil {
		return errno(err)
	}
	return n.Getattr(ctx, fh, out)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	child := gopath.Join(n.path, name)
	attr, err := n.session.GetAttr(ctx, child)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(attr, &out.Attr)

	mode := uint32(syscall.S_IFREG)
	if attr.Kind == types.FileKindDirectory {
		mode = syscall.S_IFDIR
	}
	inode := n.NewInode(ctx, &node{session: n.session, path: child}, gofusefs.StableAttr{Mode: mode})
	return inode, 0
}

func (n *node) Readdir(ctx context.Context) (gofusefs.DirStream, syscall.Errno) {
	entries, err := n.session.ReadDir(ctx, n.path)
	if err != nil {
		return nil, errno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Kind == types.FileKindDirectory {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return gofusefs.NewListDirStream(out), 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofusefs.FileHandle, uint32, syscall.Errno) {
	h := &handle{node: n}
	if flags&uint32(os.O_TRUNC) == 0 {
		data, err := n.session.ReadFile(ctx, n.path)
		if err != nil {
			return nil, 0, errno(err)
		}
		h.data = data
	}
	return h, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofusefs.Inode, gofusefs.FileHandle, uint32, syscall.Errno) {
	child := gopath.Join(n.path, name)
	if err := n.session.CreateFile(ctx, child, fsMode(mode)); err != nil {
		return nil, nil, 0, errno(err)
	}
	childNode := &node{session: n.session, path: child}
	inode := n.NewInode(ctx, childNode, gofusefs.StableAttr{Mode: syscall.S_IFREG})
	return inode, &handle{node: childNode}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.session.DeleteFile(ctx, gopath.Join(n.path, name)))
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	child := gopath.Join(n.path, name)
	if err := n.session.Mkdir(ctx, child, fsMode(mode)); err != nil {
		return nil, errno(err)
	}
	inode := n.NewInode(ctx, &node{session: n.session, path: child}, gofusefs.StableAttr{Mode: syscall.S_IFDIR})
	return inode, 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errno(n.session.Rmdir(ctx, gopath.Join(n.path, name)))
}

func (n *node) Rename(ctx context.Context, name string, newParent gofusefs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	return errno(n.session.Rename(ctx, gopath.Join(n.path, name), gopath.Join(np.path, newName)))
}

// handle is a whole-file buffer: reads serve from the snapshot taken at open,
// writes accumulate and flush through the copy-on-write path.
type handle struct {
	node *node

	mu    sync.Mutex
	data  []byte
	dirty bool
}

var (
	_ gofusefs.FileReader  = (*handle)(nil)
	_ gofusefs.FileWriter  = (*handle)(nil)
	_ gofusefs.FileFlusher = (*handle)(nil)
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := off + int64(len(data))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], data)
	h.dirty = true
	return uint32(len(data)), 0
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return 0
	}
	if _, err := h.node.session.WriteFile(ctx, h.node.path, h.data); err != nil {
		return errno(err)
	}
	h.dirty = false
	return 0
}
