package zipfs

import (
	"crypto/x509"
	"errors"
	"io"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var (
	_ vfs.File     = (*Node)(nil)
	_ vfs.Seekable = (*Node)(nil)
)

// Node is a file of a [FileSystem]. Nodes of existing paths are created
// once while indexing, nodes of non-existent paths are imaginary.
// Metadata stays available after the file system is closed, content
// and attribute access fail with a [ClosedContainerError].
type Node struct {
	fsys     *FileSystem
	path     string
	typ      vfs.FileType
	entry    *archive.Entry
	children map[string]struct{}
	certs    []*x509.Certificate

	attrsOnce sync.Once
	attrs     map[string]string
}

// newNode returns a folder for a nil or directory entry, otherwise a file.
func newNode(fsys *FileSystem, p string, e *archive.Entry) *Node {
	n := &Node{
		fsys: fsys,
		path: p,
		typ:  vfs.TypeFolder,
	}
	n.attach(e)

	return n
}

func newImaginaryNode(fsys *FileSystem, p string) *Node {
	return &Node{
		fsys: fsys,
		path: p,
		typ:  vfs.TypeImaginary,
	}
}

// attach sets the backing entry, unless the node already has one.
func (n *Node) attach(e *archive.Entry) {
	if n.entry != nil {
		return
	}
	n.entry = e

	if e == nil || e.IsDir() {
		n.typ = vfs.TypeFolder
		if n.children == nil {
			n.children = make(map[string]struct{})
		}

		return
	}

	n.typ = vfs.TypeFile
	n.certs = n.fsys.jar.certificates(e.Name)
}

// URI returns the layered URI of the node.
func (n *Node) URI() string {
	return n.fsys.uri(n.path)
}

// Name returns the last element of the path, empty for the root.
func (n *Node) Name() string {
	return vfs.BaseName(n.path)
}

// Path returns the absolute path within the file system.
func (n *Node) Path() string {
	return n.path
}

// Type returns the type of the node.
func (n *Node) Type() vfs.FileType {
	return n.typ
}

// Exists reports whether the node is not imaginary.
func (n *Node) Exists() bool {
	return n.typ != vfs.TypeImaginary
}

// Entry returns the backing entry, nil for synthesized folders.
func (n *Node) Entry() *archive.Entry {
	return n.entry
}

// Parent returns the parent folder, nil for the root.
func (n *Node) Parent() (*Node, error) {
	pp, ok := vfs.ParentPath(n.path)
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return n.fsys.Resolve(pp)
}

// Size returns the uncompressed size of a file.
func (n *Node) Size() (int64, error) {
	if n.typ != vfs.TypeFile {
		return 0, n.pathError("size", vfs.ErrNotFile)
	}
	if n.entry.UncompressedSize > math.MaxInt64 {
		return 0, n.pathError("size", archive.ErrFormat)
	}

	return int64(n.entry.UncompressedSize), nil
}

// LastModified returns the modification time of the entry. Folders
// synthesized without an entry report the time of the container.
func (n *Node) LastModified() (time.Time, error) {
	if n.typ == vfs.TypeImaginary {
		return time.Time{}, n.pathError("last-modified", vfs.ErrNotExist)
	}
	if n.entry == nil {
		return n.fsys.modified, nil
	}

	return n.entry.Modified, nil
}

// Children returns the sorted names of the children of a folder.
func (n *Node) Children() ([]string, error) {
	if n.typ != vfs.TypeFolder {
		return nil, n.pathError("children", vfs.ErrNotFolder)
	}

	return slices.Sorted(maps.Keys(n.children)), nil
}

// Child returns the named child of the node, which may be imaginary.
func (n *Node) Child(name string) (*Node, error) {
	return n.fsys.Resolve(vfs.JoinPath(n.path, name))
}

// Open returns a reader of the uncompressed content of a file.
func (n *Node) Open() (io.ReadCloser, error) {
	if n.typ != vfs.TypeFile {
		return nil, n.pathError("open", vfs.ErrNotFile)
	}

	r, err := n.fsys.cont.ensureOpen()
	if err != nil {
		return nil, n.translate(err)
	}

	start := time.Now()

	if n.entry.Method == archive.Store && !n.entry.IsEncrypted() && !n.fsys.opts.MustCRC32.Load() {
		sr, err := r.OpenRaw(n.entry)
		if err != nil {
			return nil, n.translate(err)
		}

		return &contentReader{node: n, rc: io.NopCloser(sr), start: start}, nil
	}

	rc, err := r.Open(n.entry)
	if err != nil {
		return nil, n.translate(err)
	}

	return &contentReader{node: n, rc: rc, start: start}, nil
}

// OpenSeeker returns a reader of the uncompressed content of a file
// which supports seeking. Compressed content is seeked by decompressing
// forward, or by reopening the entry to seek backwards.
func (n *Node) OpenSeeker() (io.ReadSeekCloser, error) {
	if n.typ != vfs.TypeFile {
		return nil, n.pathError("open", vfs.ErrNotFile)
	}

	return newSeekReader(n)
}

// Attributes returns the manifest attributes of the node, the main
// attributes overlaid with those of its own section. Without a
// manifest (or for the "zip" scheme) the attributes are empty.
func (n *Node) Attributes() (map[string]string, error) {
	if n.fsys.cont.isClosed() {
		return nil, &ClosedContainerError{Archive: n.fsys.source, Path: n.path}
	}

	n.attrsOnce.Do(func() {
		n.attrs = n.fsys.jar.attributes(n.entry)
	})

	return maps.Clone(n.attrs), nil
}

// Certificates returns the certificates of the signers of the entry.
func (n *Node) Certificates() ([]*x509.Certificate, error) {
	return slices.Clone(n.certs), nil
}

// IsReadable reports whether the node exists.
func (n *Node) IsReadable() bool {
	return n.Exists()
}

// IsWritable always reports false.
func (n *Node) IsWritable() bool {
	return false
}

// Write always fails with a [vfs.ReadOnlyError].
func (n *Node) Write() (io.WriteCloser, error) {
	return nil, n.readOnly("write")
}

// CreateFile always fails with a [vfs.ReadOnlyError].
func (n *Node) CreateFile() error {
	return n.readOnly("create-file")
}

// CreateFolder always fails with a [vfs.ReadOnlyError].
func (n *Node) CreateFolder() error {
	return n.readOnly("create-folder")
}

// Delete always fails with a [vfs.ReadOnlyError].
func (n *Node) Delete() error {
	return n.readOnly("delete")
}

func (n *Node) readOnly(op string) error {
	return &vfs.ReadOnlyError{Op: op, Container: n.fsys.source, Path: n.path}
}

func (n *Node) pathError(op string, err error) error {
	return &vfs.PathError{Op: op, URI: n.URI(), Err: err}
}

// translate turns errors of a closed archive into a [ClosedContainerError]
// and counts every error in the metrics.
func (n *Node) translate(err error) error {
	n.fsys.metrics.Errors.Add(1)

	var cerr *ClosedContainerError
	if errors.As(err, &cerr) {
		return &ClosedContainerError{Archive: cerr.Archive, Path: n.path}
	}
	if errors.Is(err, archive.ErrClosed) {
		return &ClosedContainerError{Archive: n.fsys.source, Path: n.path}
	}

	return err
}
