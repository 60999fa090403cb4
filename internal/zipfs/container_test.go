package zipfs

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/ziptest"
	"github.com/stretchr/testify/require"
)

func testContainer(t *testing.T) (*container, *Metrics) {
	t.Helper()

	path := ziptest.Write(t, filepath.Join(t.TempDir(), "c.zip"), []ziptest.File{
		{Name: "a.txt", Content: []byte("a")},
	}, ziptest.Options{})

	metrics := &Metrics{}
	c := &container{
		path:    path,
		metrics: metrics,
		rbuf:    logging.NewRingBuffer(10, io.Discard),
	}

	return c, metrics
}

// Expectation: ensureOpen should open once and return the same reader while open.
func Test_container_ensureOpen_Success(t *testing.T) {
	c, metrics := testContainer(t)
	defer c.close()

	r1, err := c.ensureOpen()
	require.NoError(t, err)

	r2, err := c.ensureOpen()
	require.NoError(t, err)

	require.Same(t, r1, r2)
	require.Equal(t, int64(1), metrics.OpenContainers.Load())
	require.Equal(t, int64(1), metrics.TotalOpenedContainers.Load())
}

// Expectation: close should be idempotent and forbid reopening.
func Test_container_close_Success(t *testing.T) {
	c, metrics := testContainer(t)

	r, err := c.ensureOpen()
	require.NoError(t, err)

	require.NoError(t, c.close())
	require.NoError(t, c.close())
	require.True(t, c.isClosed())

	require.Equal(t, int64(0), metrics.OpenContainers.Load())
	require.Equal(t, int64(1), metrics.TotalClosedContainers.Load())

	_, err = r.Open(r.Entries()[0])
	require.ErrorIs(t, err, archive.ErrClosed)

	_, err = c.ensureOpen()
	var cerr *ClosedContainerError
	require.ErrorAs(t, err, &cerr)
	require.ErrorIs(t, err, archive.ErrClosed)
}

// Expectation: A container which was never opened should close cleanly.
func Test_container_close_NeverOpened_Success(t *testing.T) {
	c, metrics := testContainer(t)

	require.NoError(t, c.close())
	require.True(t, c.isClosed())
	require.Equal(t, int64(0), metrics.TotalClosedContainers.Load())
}

// Expectation: A failed open should leave the container idle.
func Test_container_ensureOpen_Error(t *testing.T) {
	c := &container{
		path:    "/nonexistent/path.zip",
		metrics: &Metrics{},
		rbuf:    logging.NewRingBuffer(10, io.Discard),
	}

	_, err := c.ensureOpen()
	var oerr *archive.OpenError
	require.ErrorAs(t, err, &oerr)
	require.False(t, c.isClosed())
}
