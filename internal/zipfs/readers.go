package zipfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/desertwitch/zipvfs/internal/archive"
)

var (
	_ io.ReadCloser     = (*contentReader)(nil)
	_ io.ReadSeekCloser = (*seekReader)(nil)

	errNegativeSeek = errors.New("negative position")
	errWhence       = errors.New("invalid whence")
)

// contentReader is a metrics-aware reader of the content of a [Node].
type contentReader struct {
	node   *Node
	rc     io.ReadCloser
	start  time.Time
	nread  int64
	closed bool
}

func (r *contentReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.nread += int64(n)

	if err != nil && !errors.Is(err, io.EOF) {
		return n, r.node.translate(err)
	}

	return n, err //nolint:wrapcheck
}

func (r *contentReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	metrics := r.node.fsys.metrics
	metrics.TotalExtractTime.Add(time.Since(r.start).Nanoseconds())
	metrics.TotalExtractCount.Add(1)
	metrics.TotalExtractBytes.Add(r.nread)

	return r.rc.Close() //nolint:wrapcheck
}

// seekReader is a seekable reader of the content of a [Node].
//
// Entries stored without verification are read from their raw section,
// which seeks natively. All others are read as a stream which is moved
// forward by discarding and reopened when seeking backwards.
type seekReader struct {
	node *Node
	size int64
	pos  int64 // position of the underlying reader
	off  int64 // position requested by Seek

	rc     io.ReadCloser
	native io.ReadSeeker
	closed bool
}

func newSeekReader(n *Node) (*seekReader, error) {
	size, err := n.Size()
	if err != nil {
		return nil, err
	}

	r := &seekReader{node: n, size: size}

	if n.entry.Method == archive.Store && !n.entry.IsEncrypted() && !n.fsys.opts.MustCRC32.Load() {
		ar, err := n.fsys.cont.ensureOpen()
		if err != nil {
			return nil, n.translate(err)
		}

		sr, err := ar.OpenRaw(n.entry)
		if err != nil {
			return nil, n.translate(err)
		}
		r.native = sr

		return r, nil
	}

	rc, err := n.Open()
	if err != nil {
		return nil, err
	}
	r.rc = rc

	return r, nil
}

func (r *seekReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fs.ErrClosed
	}

	if r.native != nil {
		n, err := r.native.Read(p)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, r.node.translate(err)
		}

		return n, err //nolint:wrapcheck
	}

	if r.off >= r.size {
		return 0, io.EOF
	}

	if r.rc == nil {
		rc, err := r.node.Open()
		if err != nil {
			return 0, err
		}
		r.rc = rc
		r.pos = 0
	}

	if err := r.forwardTo(r.off); err != nil {
		return 0, err
	}

	n, err := r.rc.Read(p)
	r.pos += int64(n)
	r.off = r.pos

	return n, err //nolint:wrapcheck
}

func (r *seekReader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, fs.ErrClosed
	}

	if r.native != nil {
		return r.native.Seek(offset, whence) //nolint:wrapcheck
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, errWhence
	}
	if abs < 0 {
		return 0, errNegativeSeek
	}
	r.off = abs

	return abs, nil
}

// forwardTo moves the underlying stream to off, reopening it when off
// lies behind the current position.
func (r *seekReader) forwardTo(off int64) error {
	if off == r.pos {
		return nil
	}

	if off < r.pos {
		if err := r.rc.Close(); err != nil {
			r.node.fsys.rbuf.Printf("Error: %q: failed to close rewound stream: %v\n", r.node.URI(), err)
		}
		r.rc = nil

		rc, err := r.node.Open()
		if err != nil {
			return err
		}
		r.rc = rc
		r.pos = 0
		r.node.fsys.metrics.TotalStreamRewinds.Add(1)
	}

	n, err := io.CopyN(io.Discard, r.rc, off-r.pos)
	r.pos += n
	if err != nil {
		return fmt.Errorf("failed to forward stream to %d: %w", off, err)
	}

	return nil
}

func (r *seekReader) Close() error {
	r.closed = true
	r.native = nil

	if r.rc == nil {
		return nil
	}

	err := r.rc.Close()
	r.rc = nil

	return err //nolint:wrapcheck
}
