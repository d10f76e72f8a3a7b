// Package filesystem defines the single synchronous API surface that every
// frontend (FUSE, WASI, CSI) consumes, and the backend that implements it by
// composing the resolver, layer chains, copy-on-write writer, union view,
// publication registry, and hook namespace under one tenant context.
package filesystem

import (
	"context"
	"os"

	"github.com/tarbox/tarbox/pkg/types"
)

// FilesystemInterface is the tenant-scoped operation surface. Every path is
// an absolute virtual path, canonicalized before resolution. Errors carry the
// kinds frontends map onto their native conventions.
type FilesystemInterface interface {
	// File I/O
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) (*types.CowResult, error)
	CreateFile(ctx context.Context, path string, mode os.FileMode) error
	DeleteFile(ctx context.Context, path string) error
	Truncate(ctx context.Context, path string, size int64) error
	Rename(ctx context.Context, oldPath, newPath string) error

	// Directory I/O
	Mkdir(ctx context.Context, path string, mode os.FileMode) error
	ReadDir(ctx context.Context, path string) ([]types.DirEntry, error)
	Rmdir(ctx context.Context, path string) error

	// Metadata
	GetAttr(ctx context.Context, path string) (*types.FileAttr, error)
	SetAttr(ctx context.Context, path string, req types.SetAttrRequest) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
	Chown(ctx context.Context, path string, uid, gid int) error
	Statfs(ctx context.Context) (*types.StatfsInfo, error)

	// Unsupported in this core; every call returns NotSupported.
	Symlink(ctx context.Context, target, linkPath string) error
	Readlink(ctx context.Context, path string) (string, error)
	Link(ctx context.Context, oldPath, newPath string) error
	GetXattr(ctx context.Context, path, name string) ([]byte, error)
	SetXattr(ctx context.Context, path, name string, data []byte) error
}
