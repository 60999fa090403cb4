package filesystem

import (
	"errors"
	"io/fs"
	"syscall"

	"bazil.org/fuse"
	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

// toFuseErr maps an error of the virtual file system to an errno.
func toFuseErr(err error) error {
	switch {
	case errors.Is(err, vfs.ErrNotExist):
		return fuse.ToErrno(syscall.ENOENT)

	case errors.Is(err, fs.ErrPermission):
		return fuse.ToErrno(syscall.EACCES)

	case errors.Is(err, vfs.ErrReadOnly):
		return fuse.ToErrno(syscall.EROFS)

	case errors.Is(err, vfs.ErrNotFolder):
		return fuse.ToErrno(syscall.ENOTDIR)

	case errors.Is(err, vfs.ErrNotFile):
		return fuse.ToErrno(syscall.EISDIR)

	case errors.Is(err, archive.ErrClosed):
		return fuse.ToErrno(syscall.ESTALE)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}

// sizeOf returns the size of a file, zero if it is unknown.
func sizeOf(size int64) uint64 {
	if size < 0 {
		return 0
	}

	return uint64(size)
}
