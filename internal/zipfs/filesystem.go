package zipfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
	lru "github.com/hashicorp/golang-lru/v2"
)

const schemeJar = "jar"

// capabilities are those of every [FileSystem].
var capabilities = vfs.NewCapabilities(
	vfs.CapReadContent,
	vfs.CapLastModified,
	vfs.CapAttributes,
	vfs.CapListChildren,
	vfs.CapRandomAccessRead,
	vfs.CapCertificates,
)

// WalkFunc is called by [FileSystem.Walk] for every node. Returning
// [fs.SkipDir] for a folder skips its children, [fs.SkipAll] stops.
type WalkFunc func(path string, n *Node) error

// FileSystem is the read-only file system of one ZIP container.
// It is safe for concurrent use. You must call Close once all work is done.
type FileSystem struct {
	scheme string
	outer  string
	source string

	opts    *Options
	metrics *Metrics
	rbuf    *logging.RingBuffer

	cont      *container
	imaginary *lru.Cache[string, *Node]

	initOnce sync.Once
	initErr  error
	nodes    map[string]*Node
	jar      *jarMeta
	modified time.Time
}

// New returns a pointer to a new [FileSystem] of the container at source,
// which is addressed as outer by layered URIs of the given scheme.
// The container is opened and indexed by Init (or the first Resolve).
func New(scheme, outer, source string, opts *Options, metrics *Metrics, rbuf *logging.RingBuffer) (*FileSystem, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: need a source", errMissingArgument)
	}
	if opts == nil {
		return nil, fmt.Errorf("%w: need options", errMissingArgument)
	}
	if metrics == nil {
		return nil, fmt.Errorf("%w: need metrics", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if scheme == "" {
		scheme = "zip"
	}
	if outer == "" {
		outer = (&vfs.URI{Scheme: "file", Path: source}).String()
	}

	charset, err := archive.LookupCharset(opts.Charset)
	if err != nil {
		return nil, fmt.Errorf("failed to configure charset: %w", err)
	}

	imaginary, err := lru.New[string, *Node](max(opts.ImaginaryCacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create imaginary cache: %w", err)
	}

	fsys := &FileSystem{
		scheme:    strings.ToLower(scheme),
		outer:     outer,
		source:    source,
		opts:      opts,
		metrics:   metrics,
		rbuf:      rbuf,
		imaginary: imaginary,
	}
	fsys.cont = &container{
		path: source,
		opts: []archive.Option{
			archive.WithCharset(charset),
		},
		metrics: metrics,
		rbuf:    rbuf,
	}

	return fsys, nil
}

// Init opens and indexes the container. It does so only once, later
// calls return the result of the first. On failure the container is
// closed and no part of it is ever exposed.
func (fsys *FileSystem) Init() error {
	fsys.initOnce.Do(func() {
		fsys.initErr = fsys.init()
		if fsys.initErr != nil {
			fsys.metrics.Errors.Add(1)
			if err := fsys.cont.close(); err != nil {
				fsys.rbuf.Printf("Error: %q: failed to close: %v\n", fsys.source, err)
			}
		}
	})

	return fsys.initErr
}

func (fsys *FileSystem) init() error {
	start := time.Now()

	r, err := fsys.cont.ensureOpen()
	if err != nil {
		return err
	}

	if fi, err := os.Stat(fsys.source); err == nil {
		fsys.modified = fi.ModTime()
	}

	if fsys.scheme == schemeJar || fsys.opts.ZipManifest {
		meta, err := readJarMeta(r, fsys.rbuf)
		if err != nil {
			return &archive.OpenError{Archive: fsys.source, Err: err}
		}
		fsys.jar = meta
	}

	nodes, err := buildIndex(fsys, r.Entries())
	if err != nil {
		return &archive.OpenError{Archive: fsys.source, Err: err}
	}
	fsys.nodes = nodes

	fsys.metrics.TotalIndexedEntries.Add(int64(len(r.Entries())))
	fsys.metrics.TotalIndexTime.Add(time.Since(start).Nanoseconds())

	return nil
}

// Root returns the root folder.
func (fsys *FileSystem) Root() (*Node, error) {
	return fsys.Resolve("/")
}

// Resolve returns the node of a path, which is imaginary if nothing
// exists there. Imaginary nodes are cached, but not kept indefinitely.
func (fsys *FileSystem) Resolve(p string) (*Node, error) {
	if err := fsys.Init(); err != nil {
		return nil, err
	}
	if fsys.cont.isClosed() {
		return nil, &ClosedContainerError{Archive: fsys.source, Path: p}
	}

	p = vfs.CleanPath(p)
	if n, ok := fsys.nodes[p]; ok {
		return n, nil
	}

	if n, ok := fsys.imaginary.Get(p); ok {
		fsys.metrics.TotalImaginaryHits.Add(1)

		return n, nil
	}
	fsys.metrics.TotalImaginaryMisses.Add(1)

	n := newImaginaryNode(fsys, p)
	if prev, ok, _ := fsys.imaginary.PeekOrAdd(p, n); ok {
		return prev, nil
	}

	return n, nil
}

// Capabilities returns the operations the file system supports.
func (fsys *FileSystem) Capabilities() vfs.Capabilities {
	return capabilities
}

// Attributes returns the main attributes of the manifest, if any.
func (fsys *FileSystem) Attributes() (map[string]string, error) {
	if err := fsys.Init(); err != nil {
		return nil, err
	}

	return fsys.jar.attributes(nil), nil
}

// Attribute returns a main attribute of the manifest,
// its name compared case-insensitively.
func (fsys *FileSystem) Attribute(name string) (string, bool, error) {
	if err := fsys.Init(); err != nil {
		return "", false, err
	}

	v, ok := fsys.jar.attribute(name)

	return v, ok, nil
}

// Source returns the local path of the container.
func (fsys *FileSystem) Source() string {
	return fsys.source
}

// Volumes returns the paths of all volumes of the container.
func (fsys *FileSystem) Volumes() ([]string, error) {
	if err := fsys.Init(); err != nil {
		return nil, err
	}

	r, err := fsys.cont.ensureOpen()
	if err != nil {
		return nil, err
	}

	return r.Volumes(), nil
}

// Len returns the number of nodes, the root and synthesized folders included.
func (fsys *FileSystem) Len() int {
	if err := fsys.Init(); err != nil {
		return 0
	}

	return len(fsys.nodes)
}

// Walk walks the hierarchy depth-first in lexical order, starting at root.
func (fsys *FileSystem) Walk(ctx context.Context, root string, fn WalkFunc) error {
	n, err := fsys.Resolve(root)
	if err != nil {
		return err
	}
	if !n.Exists() {
		return &vfs.PathError{Op: "walk", URI: n.URI(), Err: vfs.ErrNotExist}
	}

	err = fsys.walkNode(ctx, n, fn)
	if errors.Is(err, fs.SkipAll) || errors.Is(err, fs.SkipDir) {
		return nil
	}

	return err
}

func (fsys *FileSystem) walkNode(ctx context.Context, n *Node, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	if err := fn(n.path, n); err != nil {
		return err
	}

	if n.typ != vfs.TypeFolder {
		return nil
	}

	names, _ := n.Children()
	for _, name := range names {
		child := fsys.nodes[vfs.JoinPath(n.path, name)]

		if err := fsys.walkNode(ctx, child, fn); err != nil {
			if errors.Is(err, fs.SkipDir) && child.typ == vfs.TypeFolder {
				continue
			}

			return err
		}
	}

	return nil
}

// Close closes the container. Metadata of resolved nodes stays available,
// content access fails with a [ClosedContainerError]. It is safe to call
// more than once, also before the file system was initialized.
func (fsys *FileSystem) Close() error {
	err := fsys.cont.close()
	fsys.imaginary.Purge()

	return err
}

func (fsys *FileSystem) uri(p string) string {
	u := &vfs.URI{Scheme: fsys.scheme, Outer: fsys.outer, Path: p}

	return u.String()
}
