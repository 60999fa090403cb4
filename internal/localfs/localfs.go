// Package localfs implements the provider of "file:" URIs, which address
// files on the local disk by their absolute path.
package localfs

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

const scheme = "file"

var (
	_ vfs.Provider   = (*Provider)(nil)
	_ vfs.FileSystem = (*FileSystem)(nil)
	_ vfs.File       = (*File)(nil)
	_ vfs.Seekable   = (*File)(nil)
	_ vfs.LocalFile  = (*File)(nil)

	capabilities = vfs.NewCapabilities(
		vfs.CapReadContent,
		vfs.CapLastModified,
		vfs.CapListChildren,
		vfs.CapRandomAccessRead,
		vfs.CapWriteContent,
		vfs.CapCreate,
		vfs.CapDelete,
	)
)

// Provider mounts the local disk.
type Provider struct{}

// Open implements [vfs.Provider].
func (p *Provider) Open(_ context.Context, u *vfs.URI) (vfs.FileSystem, error) {
	if u.Scheme != scheme {
		return nil, fmt.Errorf("%w: %q", vfs.ErrUnknownScheme, u.Scheme)
	}

	return &FileSystem{}, nil
}

// FileSystem is the local disk. Files are not cached, every call
// reflects the current state of the disk.
type FileSystem struct{}

// Root returns the root folder of the disk.
func (fsys *FileSystem) Root() (vfs.File, error) {
	return fsys.Resolve("/")
}

// Resolve returns the file at an absolute path.
func (fsys *FileSystem) Resolve(p string) (vfs.File, error) {
	return &File{path: vfs.CleanPath(p)}, nil
}

// Capabilities returns the operations the file system supports.
func (fsys *FileSystem) Capabilities() vfs.Capabilities {
	return capabilities
}

// Close is a no-op.
func (fsys *FileSystem) Close() error {
	return nil
}

// File is a file on the local disk, it may or may not exist.
type File struct {
	path string
}

// URI returns the "file:" URI of the file.
func (f *File) URI() string {
	return (&vfs.URI{Scheme: scheme, Path: f.path}).String()
}

// Name returns the last element of the path.
func (f *File) Name() string {
	return vfs.BaseName(f.path)
}

// LocalPath returns the path of the file on the local disk.
func (f *File) LocalPath() string {
	return filepath.FromSlash(f.path)
}

// Type returns the current type of the file. Anything other than a
// folder (after following symlinks) is a file.
func (f *File) Type() vfs.FileType {
	fi, err := os.Stat(f.LocalPath())
	if err != nil {
		return vfs.TypeImaginary
	}
	if fi.IsDir() {
		return vfs.TypeFolder
	}

	return vfs.TypeFile
}

// Exists reports whether the file currently exists.
func (f *File) Exists() bool {
	return f.Type() != vfs.TypeImaginary
}

func (f *File) stat(op string) (fs.FileInfo, error) {
	fi, err := os.Stat(f.LocalPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, f.pathError(op, vfs.ErrNotExist)
		}

		return nil, f.pathError(op, err)
	}

	return fi, nil
}

// Size returns the size of a file, zero for folders.
func (f *File) Size() (int64, error) {
	fi, err := f.stat("size")
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, nil
	}

	return fi.Size(), nil
}

// LastModified returns the modification time.
func (f *File) LastModified() (time.Time, error) {
	fi, err := f.stat("last-modified")
	if err != nil {
		return time.Time{}, err
	}

	return fi.ModTime(), nil
}

// Children returns the names of the children of a folder in sorted order.
func (f *File) Children() ([]string, error) {
	fi, err := f.stat("children")
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, f.pathError("children", vfs.ErrNotFolder)
	}

	des, err := os.ReadDir(f.LocalPath())
	if err != nil {
		return nil, f.pathError("children", err)
	}

	names := make([]string, 0, len(des))
	for _, de := range des {
		names = append(names, de.Name())
	}
	slices.Sort(names)

	return names, nil
}

// Open opens the content of a file for reading.
func (f *File) Open() (io.ReadCloser, error) {
	return f.OpenSeeker()
}

// OpenSeeker opens the content of a file for random access reading.
func (f *File) OpenSeeker() (io.ReadSeekCloser, error) {
	fi, err := f.stat("open")
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, f.pathError("open", vfs.ErrNotFile)
	}

	fh, err := os.Open(f.LocalPath())
	if err != nil {
		return nil, f.pathError("open", err)
	}

	return fh, nil
}

// Attributes returns no attributes, the local disk has none.
func (f *File) Attributes() (map[string]string, error) {
	return map[string]string{}, nil
}

// Certificates returns no certificates, the local disk has none.
func (f *File) Certificates() ([]*x509.Certificate, error) {
	return nil, nil
}

// IsWritable reports whether the file is a file or does not exist.
func (f *File) IsWritable() bool {
	return f.Type() != vfs.TypeFolder
}

// Write creates or truncates the file, its parents are created as needed.
func (f *File) Write() (io.WriteCloser, error) {
	if f.Type() == vfs.TypeFolder {
		return nil, f.pathError("write", vfs.ErrNotFile)
	}

	if err := os.MkdirAll(filepath.Dir(f.LocalPath()), 0o755); err != nil {
		return nil, f.pathError("write", err)
	}

	fh, err := os.Create(f.LocalPath())
	if err != nil {
		return nil, f.pathError("write", err)
	}

	return fh, nil
}

// CreateFile creates an empty file if nothing exists at the path.
func (f *File) CreateFile() error {
	switch f.Type() {
	case vfs.TypeFile:
		return nil
	case vfs.TypeFolder:
		return f.pathError("create-file", vfs.ErrNotFile)
	}

	w, err := f.Write()
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return f.pathError("create-file", err)
	}

	return nil
}

// CreateFolder creates the folder along with its parents.
func (f *File) CreateFolder() error {
	if f.Type() == vfs.TypeFile {
		return f.pathError("create-folder", vfs.ErrNotFolder)
	}

	if err := os.MkdirAll(f.LocalPath(), 0o755); err != nil {
		return f.pathError("create-folder", err)
	}

	return nil
}

// Delete removes a file or an empty folder.
func (f *File) Delete() error {
	if err := os.Remove(f.LocalPath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f.pathError("delete", vfs.ErrNotExist)
		}

		return f.pathError("delete", err)
	}

	return nil
}

func (f *File) pathError(op string, err error) error {
	return &vfs.PathError{Op: op, URI: f.URI(), Err: err}
}
