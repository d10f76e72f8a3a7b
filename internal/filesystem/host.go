package filesystem

import (
	"io/fs"
	"os"
	"time"

	"github.com/tarbox/tarbox/internal/mount"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// Host passthrough: reads and writes under a host mount go to the host
// filesystem verbatim beneath the mount's base path.

func readHostFile(full string) ([]byte, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapHostError(err, full)
	}
	return data, nil
}

func readHostDir(full string) ([]types.DirEntry, error) {
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapHostError(err, full)
	}
	out := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, types.DirEntry{
			Name: e.Name(),
			Kind: kindFromFileInfo(info),
			Attr: attrFromFileInfo(info),
		})
	}
	return out, nil
}

func statHost(full string) (*types.FileAttr, error) {
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapHostError(err, full)
	}
	attr := attrFromFileInfo(info)
	return &attr, nil
}

func setHostAttr(res *mount.Resolved, src mount.HostSource, req types.SetAttrRequest) error {
	if res.Entry.AccessMode == types.ModeReadOnly {
		return errors.ReadOnly(res.Entry.VirtualPath)
	}
	if req.Mode != nil {
		if err := os.Chmod(src.FullPath, os.FileMode(*req.Mode)); err != nil {
			return mapHostError(err, src.FullPath)
		}
	}
	if req.UID != nil || req.GID != nil {
		uid, gid := -1, -1
		if req.UID != nil {
			uid = int(*req.UID)
		}
		if req.GID != nil {
			gid = int(*req.GID)
		}
		if err := os.Chown(src.FullPath, uid, gid); err != nil {
			return mapHostError(err, src.FullPath)
		}
	}
	if req.Size != nil {
		if err := os.Truncate(src.FullPath, *req.Size); err != nil {
			return mapHostError(err, src.FullPath)
		}
	}
	if req.Atime != nil || req.Mtime != nil {
		atime, mtime := time.Now(), time.Now()
		if req.Atime != nil {
			atime = *req.Atime
		}
		if req.Mtime != nil {
			mtime = *req.Mtime
		}
		if err := os.Chtimes(src.FullPath, atime, mtime); err != nil {
			return mapHostError(err, src.FullPath)
		}
	}
	return nil
}

func mapHostError(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return errors.NotFound(path)
	case os.IsExist(err):
		return errors.AlreadyExists(path)
	case os.IsPermission(err):
		return errors.PermissionDenied(path)
	default:
		return errors.Wrap(errors.KindOther, "host filesystem error", err)
	}
}

func kindFromFileInfo(info fs.FileInfo) types.FileKind {
	switch {
	case info.IsDir():
		return types.FileKindDirectory
	case info.Mode()&fs.ModeSymlink != 0:
		return types.FileKindSymlink
	default:
		return types.FileKindFile
	}
}

func attrFromFileInfo(info fs.FileInfo) types.FileAttr {
	return types.FileAttr{
		Kind:  kindFromFileInfo(info),
		Mode:  uint32(info.Mode().Perm()),
		Size:  info.Size(),
		Atime: info.ModTime(),
		Mtime: info.ModTime(),
		Ctime: info.ModTime(),
	}
}
