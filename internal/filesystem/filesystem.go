// Package filesystem implements the read-only FUSE filesystem, which
// presents a folder of the virtual file system as a mounted directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

const (
	fileBasePerm = 0o444 // RO
	dirBasePerm  = 0o555 // RO

	defaultPoolBufferSize     = 128 * 1024       // 128KiB
	defaultStreamingThreshold = 10 * 1024 * 1024 // 10MiB
	defaultStrictCache        = false
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Options contains all settings for the operation of the filesystem.
// All non-atomic fields can no longer be modified at runtime (once mounted).
type Options struct {
	// PoolBufferSize is the buffer size for the file read buffer pool.
	PoolBufferSize int

	// StrictCache disables the kernel page and directory caching,
	// so that every read is served by the filesystem.
	StrictCache bool

	// StreamingThreshold when files are no longer fully loaded into RAM,
	// but rather streamed in chunks (amount as requested by the kernel).
	StreamingThreshold atomic.Uint64
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{
		PoolBufferSize: defaultPoolBufferSize,
		StrictCache:    defaultStrictCache,
	}
	opts.StreamingThreshold.Store(defaultStreamingThreshold)

	return opts
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// TotalLookups is the amount of looked up names.
	TotalLookups atomic.Int64

	// TotalReadDirs is the amount of listed directories.
	TotalReadDirs atomic.Int64

	// TotalInMemoryReads is the amount of files read fully into RAM.
	TotalInMemoryReads atomic.Int64

	// TotalStreamReads is the amount of chunks streamed for the kernel.
	TotalStreamReads atomic.Int64

	// TotalReadBytes is the amount of bytes served to the kernel.
	TotalReadBytes atomic.Int64

	// Errors is the amount of errors returned to the kernel.
	Errors atomic.Int64
}

// FS is the core implementation of the filesystem.
type FS struct {
	Options *Options
	Metrics *Metrics

	vfsys vfs.FileSystem
	root  string
	mtime time.Time

	bufpool sync.Pool
	rbuf    *logging.RingBuffer
}

// NewFS returns a pointer to a new [FS] presenting the folder at root
// within vfsys. The [vfs.FileSystem] stays owned by the caller.
func NewFS(vfsys vfs.FileSystem, root string, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if vfsys == nil {
		return nil, fmt.Errorf("%w: need a file system", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	root = vfs.CleanPath(root)

	f, err := vfsys.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if f.Type() != vfs.TypeFolder {
		return nil, &vfs.PathError{Op: "mount", URI: f.URI(), Err: vfs.ErrNotFolder}
	}

	fsys := &FS{
		Options: opts,
		Metrics: &Metrics{},
		vfsys:   vfsys,
		root:    root,
		mtime:   time.Now(),
		rbuf:    rbuf,
	}
	fsys.bufpool = sync.Pool{
		New: func() any {
			b := make([]byte, max(opts.PoolBufferSize, 1))

			return &b
		},
	}

	return fsys, nil
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &dirNode{
		fsys:  fsys,
		inode: 1,
		path:  fsys.root,
	}, nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
// Nodes derive their inodes from their parent, a zero inode is a bug.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}

// WalkFunc gets called on each visited [fs.Node] as part of a [FS.Walk].
// Do note that as the root directory is synthetic, the [fuse.Dirent] will be nil.
// All paths provided to the callback will be relative to the filesystem root.
type WalkFunc func(path string, dirent *fuse.Dirent, node fs.Node, attr fuse.Attr) error

// Walk constructs and walks the [FS] in-memory, calling walkFn on each visited [fs.Node].
func (fsys *FS) Walk(ctx context.Context, walkFn WalkFunc) error {
	root, err := fsys.Root()
	if err != nil {
		return fmt.Errorf("failed to get fs root: %w", err)
	}

	return fsys.walkNode(ctx, "/", nil, root, walkFn)
}

func (fsys *FS) walkNode(ctx context.Context, path string, dirent *fuse.Dirent, node fs.Node, walkFn WalkFunc) error {
	var attr fuse.Attr

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := node.Attr(ctx, &attr); err != nil {
		return fmt.Errorf("attr error at %q: %w", path, err)
	}

	if err := walkFn(path, dirent, node, attr); err != nil {
		return fmt.Errorf("walkfn error at %q: %w", path, err)
	}

	readDirNode, ok := node.(fs.HandleReadDirAller)
	if !ok {
		return nil
	}

	dirents, err := readDirNode.ReadDirAll(ctx)
	if err != nil {
		return fmt.Errorf("readdirall error at %q: %w", path, err)
	}

	lookupNode, ok := node.(fs.NodeStringLookuper)
	if !ok {
		return nil
	}

	for _, de := range dirents {
		childPath := vfs.JoinPath(path, de.Name)

		childNode, err := lookupNode.Lookup(ctx, de.Name)
		if err != nil {
			return fmt.Errorf("lookup error for %q at %q: %w", de.Name, path, err)
		}

		if err := fsys.walkNode(ctx, childPath, &de, childNode, walkFn); err != nil {
			return err
		}
	}

	return nil
}

// resolve returns the [vfs.File] at a path of the underlying file system.
func (fsys *FS) resolve(p string) (vfs.File, error) {
	f, err := fsys.vfsys.Resolve(p)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return f, nil
}

// countError records an error returned to the kernel and passes it through.
func (fsys *FS) countError(err error) error {
	fsys.Metrics.Errors.Add(1)

	return err
}
