package filesystem

import (
	"bytes"
	"context"
	"io"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var _ fs.Node = (*fileBaseNode)(nil)

// fileBaseNode is a file of the virtual file system.
// It is presented as a regular file in our filesystem and read on demand.
//
// To be embedded into either [inMemoryFileNode] or [streamFileNode],
// depending on which [Options.StreamingThreshold] was set at lookup time.
type fileBaseNode struct {
	fsys  *FS       // Pointer to our filesystem.
	file  vfs.File  // File of the virtual file system.
	inode uint64    // Inode within our filesystem.
	size  uint64    // Size of the file.
	mtime time.Time // Modified time of the file.
}

func (z *fileBaseNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = fileBasePerm
	a.Inode = z.inode

	a.Size = z.size

	a.Atime = z.mtime
	a.Ctime = z.mtime
	a.Mtime = z.mtime

	return nil
}

var (
	_ fs.Node            = (*inMemoryFileNode)(nil)
	_ fs.NodeOpener      = (*inMemoryFileNode)(nil)
	_ fs.HandleReadAller = (*inMemoryFileNode)(nil)
)

// inMemoryFileNode is a [fileBaseNode] that implements only the
// [fs.HandleReadAller] for reading the entire file contents into memory.
type inMemoryFileNode struct {
	*fileBaseNode
}

func (z *inMemoryFileNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !z.fsys.Options.StrictCache {
		resp.Flags |= fuse.OpenKeepCache
	}

	return z, nil
}

func (z *inMemoryFileNode) ReadAll(_ context.Context) ([]byte, error) {
	rc, err := z.file.Open()
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->ReadAll: %v\n", z.file.URI(), err)

		return nil, z.fsys.countError(toFuseErr(err))
	}
	defer rc.Close()

	bufp := z.fsys.bufpool.Get().(*[]byte) //nolint:forcetypeassert
	defer z.fsys.bufpool.Put(bufp)

	out := bytes.NewBuffer(make([]byte, 0, z.size))

	n, err := io.CopyBuffer(out, rc, *bufp)
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->ReadAll: IO Error: %v\n", z.file.URI(), err)

		return nil, z.fsys.countError(toFuseErr(err))
	}

	z.fsys.Metrics.TotalInMemoryReads.Add(1)
	z.fsys.Metrics.TotalReadBytes.Add(n)

	return out.Bytes(), nil
}

var (
	_ fs.Node       = (*streamFileNode)(nil)
	_ fs.NodeOpener = (*streamFileNode)(nil)
)

// streamFileNode is a [fileBaseNode] that opens a [streamHandle] for
// streaming the kernel requested bytes from the file.
type streamFileNode struct {
	*fileBaseNode
}

func (z *streamFileNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	s, ok := z.file.(vfs.Seekable)
	if !ok {
		return nil, z.fsys.countError(fuse.ToErrno(syscall.EIO))
	}

	rs, err := s.OpenSeeker()
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->Open: %v\n", z.file.URI(), err)

		return nil, z.fsys.countError(toFuseErr(err))
	}

	if !z.fsys.Options.StrictCache {
		resp.Flags |= fuse.OpenKeepCache
	}

	return &streamHandle{node: z, rs: rs}, nil
}

var (
	_ fs.Handle         = (*streamHandle)(nil)
	_ fs.HandleReader   = (*streamHandle)(nil)
	_ fs.HandleReleaser = (*streamHandle)(nil)
)

// streamHandle is an open [streamFileNode]. The kernel may issue
// concurrent reads on one handle, so they are serialized.
type streamHandle struct {
	node *streamFileNode

	mu sync.Mutex
	rs io.ReadSeekCloser
}

func (h *streamHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	z := h.node

	if h.rs == nil {
		return z.fsys.countError(fuse.ToErrno(syscall.EBADF))
	}

	if _, err := h.rs.Seek(req.Offset, io.SeekStart); err != nil {
		z.fsys.rbuf.Printf("Error: %q->Seek: %v\n", z.file.URI(), err)

		return z.fsys.countError(toFuseErr(err))
	}

	buf := resp.Data[:0]
	if cap(buf) < req.Size {
		buf = make([]byte, 0, req.Size)
	}
	buf = buf[:req.Size]

	n, err := io.ReadFull(h.rs, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF { //nolint:errorlint // end of file, not a wrapped entry error
		z.fsys.rbuf.Printf("Error: %q->Read: IO Error: %v\n", z.file.URI(), err)

		return z.fsys.countError(toFuseErr(err))
	}

	resp.Data = buf[:n]

	z.fsys.Metrics.TotalStreamReads.Add(1)
	z.fsys.Metrics.TotalReadBytes.Add(int64(n))

	return nil
}

func (h *streamHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rs == nil {
		return nil
	}

	err := h.rs.Close()
	h.rs = nil
	if err != nil {
		h.node.fsys.rbuf.Printf("Error: %q->Release: %v\n", h.node.file.URI(), err)
	}

	return nil
}
