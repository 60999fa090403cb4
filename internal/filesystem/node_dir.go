package filesystem

import (
	"context"
	"os"
	"slices"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var (
	_ fs.Node               = (*dirNode)(nil)
	_ fs.NodeOpener         = (*dirNode)(nil)
	_ fs.HandleReadDirAller = (*dirNode)(nil)
	_ fs.NodeStringLookuper = (*dirNode)(nil)
)

// dirNode is a folder of the virtual file system.
// It is presented as a regular directory within our filesystem.
type dirNode struct {
	fsys  *FS    // Pointer to our filesystem.
	inode uint64 // Inode within our filesystem.
	path  string // Path of the folder in the virtual file system.
}

func (d *dirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | dirBasePerm
	a.Inode = d.inode

	mtime := d.fsys.mtime
	if f, err := d.fsys.resolve(d.path); err == nil {
		if t, err := f.LastModified(); err == nil && !t.IsZero() {
			mtime = t
		}
	}

	a.Atime = mtime
	a.Ctime = mtime
	a.Mtime = mtime

	return nil
}

func (d *dirNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !d.fsys.Options.StrictCache {
		resp.Flags |= fuse.OpenKeepCache | fuse.OpenCacheDir
	}

	return d, nil
}

func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	d.fsys.Metrics.TotalReadDirs.Add(1)

	f, err := d.fsys.resolve(d.path)
	if err != nil {
		d.fsys.rbuf.Printf("Error: %q->ReadDirAll: %v\n", d.path, err)

		return nil, d.fsys.countError(toFuseErr(err))
	}

	names, err := f.Children()
	if err != nil {
		d.fsys.rbuf.Printf("Error: %q->ReadDirAll: %v\n", f.URI(), err)

		return nil, d.fsys.countError(toFuseErr(err))
	}

	resp := make([]fuse.Dirent, 0, len(names))

	for _, name := range names {
		child, err := d.fsys.resolve(vfs.JoinPath(d.path, name))
		if err != nil {
			d.fsys.rbuf.Printf("Skipped: %q->ReadDirAll: %q: %v\n", f.URI(), name, err)

			continue
		}

		de := fuse.Dirent{
			Name:  name,
			Inode: fs.GenerateDynamicInode(d.inode, name),
		}

		switch child.Type() {
		case vfs.TypeFolder:
			de.Type = fuse.DT_Dir
		case vfs.TypeFile:
			de.Type = fuse.DT_File
		default:
			continue
		}

		resp = append(resp, de)
	}

	slices.SortFunc(resp, func(a, b fuse.Dirent) int {
		if a.Type == b.Type {
			return strings.Compare(a.Name, b.Name)
		}
		if a.Type == fuse.DT_Dir {
			return -1
		}

		return 1
	})

	return resp, nil
}

func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	d.fsys.Metrics.TotalLookups.Add(1)

	p := vfs.JoinPath(d.path, name)
	if vfs.BaseName(p) != name {
		return nil, toFuseErr(vfs.ErrNotExist) // ".", ".." or a name with "/"
	}

	f, err := d.fsys.resolve(p)
	if err != nil {
		d.fsys.rbuf.Printf("Error: %q->Lookup->%q: %v\n", d.path, name, err)

		return nil, d.fsys.countError(toFuseErr(err))
	}

	inode := fs.GenerateDynamicInode(d.inode, name)

	switch f.Type() {
	case vfs.TypeFolder:
		return &dirNode{
			fsys:  d.fsys,
			inode: inode,
			path:  p,
		}, nil

	case vfs.TypeFile:
		return d.fileNode(f, inode)

	default:
		return nil, fuse.ToErrno(syscall.ENOENT)
	}
}

// fileNode returns the node of a file, streamed if it exceeds the
// [Options.StreamingThreshold] and supports random access reading.
func (d *dirNode) fileNode(f vfs.File, inode uint64) (fs.Node, error) {
	size, err := f.Size()
	if err != nil {
		d.fsys.rbuf.Printf("Error: %q->Lookup: %v\n", f.URI(), err)

		return nil, d.fsys.countError(toFuseErr(err))
	}

	mtime, err := f.LastModified()
	if err != nil || mtime.IsZero() {
		mtime = d.fsys.mtime
	}

	base := &fileBaseNode{
		fsys:  d.fsys,
		file:  f,
		inode: inode,
		size:  sizeOf(size),
		mtime: mtime,
	}

	if _, ok := f.(vfs.Seekable); ok && base.size > d.fsys.Options.StreamingThreshold.Load() {
		return &streamFileNode{base}, nil
	}

	return &inMemoryFileNode{base}, nil
}
