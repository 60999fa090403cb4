package zipfs

import (
	"sync"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/logging"
)

type containerState int

const (
	stateIdle containerState = iota
	stateOpen
	stateClosed
)

// container owns the archive handle of a file system. It opens the
// archive on first use and keeps it open until it is closed, after
// which it cannot be opened again.
type container struct {
	path    string
	opts    []archive.Option
	metrics *Metrics
	rbuf    *logging.RingBuffer

	mu     sync.Mutex
	state  containerState
	reader *archive.Reader
}

// ensureOpen returns the open archive, opening it if needed.
func (c *container) ensureOpen() (*archive.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateOpen:
		return c.reader, nil
	case stateClosed:
		return nil, &ClosedContainerError{Archive: c.path, Path: "/"}
	}

	r, err := archive.Open(c.path, c.opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	c.reader = r
	c.state = stateOpen

	c.metrics.OpenContainers.Add(1)
	c.metrics.TotalOpenedContainers.Add(1)

	c.rbuf.Printf("Opened %q (%d volumes, %d entries).\n", c.path, len(r.Volumes()), len(r.Entries()))

	return r, nil
}

// close closes the archive, also when it was never opened.
func (c *container) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	c.state = stateClosed

	if prev != stateOpen {
		return nil
	}

	err := c.reader.Close()
	c.reader = nil

	c.metrics.OpenContainers.Add(-1)
	c.metrics.TotalClosedContainers.Add(1)

	c.rbuf.Printf("Closed %q.\n", c.path)

	return err //nolint:wrapcheck
}

func (c *container) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == stateClosed
}
