package vfs

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testManager(t *testing.T, opts *ManagerOptions) (*Manager, *memProvider, *layerProvider, *logging.RingBuffer) {
	t.Helper()

	if opts == nil {
		opts = DefaultManagerOptions()
	}
	opts.TempDir = t.TempDir()

	rbuf := logging.NewRingBuffer(100, io.Discard)

	m, err := NewManager(opts, rbuf)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	mem := &memProvider{fsys: &memFS{scheme: "mem", files: map[string][]byte{
		"/a.zip": []byte("outer"),
		"/b.zip": []byte("outer"),
	}}}
	layer := &layerProvider{}

	m.Register("mem", mem)
	m.RegisterLayered("zip", layer)

	return m, mem, layer, rbuf
}

// Expectation: NewManager should reject missing arguments.
func Test_NewManager_Error(t *testing.T) {
	_, err := NewManager(nil, logging.NewRingBuffer(1, io.Discard))
	require.ErrorIs(t, err, errMissingArgument)

	_, err = NewManager(DefaultManagerOptions(), nil)
	require.ErrorIs(t, err, errMissingArgument)
}

// Expectation: Resolve should mount a provider once and reuse it.
func Test_Manager_Resolve_Success(t *testing.T) {
	m, mem, _, _ := testManager(t, nil)

	f, err := m.Resolve(t.Context(), "mem:///a.zip")
	require.NoError(t, err)
	require.Equal(t, TypeFile, f.Type())

	f, err = m.Resolve(t.Context(), "mem:///missing")
	require.NoError(t, err)
	require.Equal(t, TypeImaginary, f.Type())

	require.Equal(t, int32(1), mem.opens.Load())
	require.Len(t, m.Mounts(), 1)
}

// Expectation: Layered URIs should be mounted from a replica of their container.
func Test_Manager_Resolve_Layered_Success(t *testing.T) {
	m, _, layer, rbuf := testManager(t, nil)

	f, err := m.Resolve(t.Context(), "zip:mem:///a.zip!/inner.txt")
	require.NoError(t, err)
	require.Equal(t, TypeFile, f.Type())
	require.Equal(t, "zip:mem:///a.zip!/inner.txt", f.URI())

	_, err = m.Resolve(t.Context(), "zip:mem:///a.zip!/other.txt")
	require.NoError(t, err)

	require.Len(t, layer.sources, 1)
	data, err := os.ReadFile(layer.sources[0])
	require.NoError(t, err)
	require.Equal(t, "outer", string(data))

	keys := []string{}
	for _, mi := range m.Mounts() {
		keys = append(keys, mi.Key)
	}
	require.Equal(t, []string{"mem://", "zip:mem:///a.zip"}, keys)

	found := false
	for _, line := range rbuf.Lines() {
		if strings.Contains(line, `Mounted "zip:mem:///a.zip"`) {
			found = true
		}
	}
	require.True(t, found)
}

// Expectation: Detach should close the file system and remove its replica.
func Test_Manager_Detach_Success(t *testing.T) {
	m, _, layer, _ := testManager(t, nil)

	_, err := m.Resolve(t.Context(), "zip:mem:///a.zip!/inner.txt")
	require.NoError(t, err)

	require.NoError(t, m.Detach("zip:mem:///a.zip"))
	require.Equal(t, int32(1), layer.mounted[0].closed.Load())
	require.NoFileExists(t, layer.sources[0])

	require.ErrorIs(t, m.Detach("zip:mem:///a.zip"), ErrNotExist)

	_, err = m.Resolve(t.Context(), "zip:mem:///a.zip!/inner.txt")
	require.NoError(t, err)
	require.Len(t, layer.mounted, 2)
}

// Expectation: Concurrent resolves of one container should share a single mount.
func Test_Manager_Resolve_Concurrent_Success(t *testing.T) {
	m, mem, _, _ := testManager(t, nil)
	mem.delay = 20 * time.Millisecond

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			_, err := m.Resolve(t.Context(), "mem:///a.zip")

			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), mem.opens.Load())
}

// Expectation: Unknown schemes, bad URIs and failing providers should be reported.
func Test_Manager_Resolve_Error(t *testing.T) {
	m, _, layer, _ := testManager(t, nil)

	_, err := m.Resolve(t.Context(), "ftp://host/a.zip")
	require.ErrorIs(t, err, ErrUnknownScheme)

	_, err = m.Resolve(t.Context(), "jar:mem:///a.zip!/x")
	require.ErrorIs(t, err, ErrUnknownScheme)

	_, err = m.Resolve(t.Context(), "not a uri")
	require.ErrorIs(t, err, ErrInvalidURI)

	_, err = m.Resolve(t.Context(), "zip:mem:///missing.zip!/x")
	require.ErrorIs(t, err, ErrNotExist)

	layer.err = errors.New("broken container")
	_, err = m.Resolve(t.Context(), "zip:mem:///b.zip!/x")
	require.ErrorContains(t, err, "broken container")
	require.Len(t, m.Mounts(), 1)
}

// Expectation: Idle file systems should be detached after the TTL.
func Test_Manager_TTL_Success(t *testing.T) {
	m, _, layer, rbuf := testManager(t, &ManagerOptions{CacheTTL: 50 * time.Millisecond})

	_, err := m.Resolve(t.Context(), "zip:mem:///a.zip!/inner.txt")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return layer.mounted[0].closed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, line := range rbuf.Lines() {
			if strings.Contains(line, "(idle)") {
				return true
			}
		}

		return false
	}, 5*time.Second, 10*time.Millisecond)
}

// Expectation: A pinned file system should outlive the TTL, unknown keys cannot be pinned.
func Test_Manager_Pin_Success(t *testing.T) {
	m, _, layer, _ := testManager(t, &ManagerOptions{CacheTTL: 50 * time.Millisecond})

	require.ErrorIs(t, m.Pin("zip:mem:///a.zip"), ErrNotExist)

	_, err := m.Resolve(t.Context(), "zip:mem:///a.zip!/inner.txt")
	require.NoError(t, err)
	require.NoError(t, m.Pin("zip:mem:///a.zip"))

	require.Eventually(t, func() bool {
		for _, mi := range m.Mounts() {
			if mi.Key == "mem://" {
				return false
			}
		}

		return true
	}, 5*time.Second, 10*time.Millisecond)

	mounts := m.Mounts()
	require.Len(t, mounts, 1)
	require.Equal(t, "zip:mem:///a.zip", mounts[0].Key)
	require.True(t, mounts[0].ExpiresAt.IsZero())
	require.Equal(t, int32(0), layer.mounted[0].closed.Load())
}

// Expectation: Close should return promptly right after NewManager, with and without a TTL.
func Test_Manager_Close_Immediate_Success(t *testing.T) {
	for _, ttl := range []time.Duration{0, time.Millisecond, time.Hour} {
		for range 50 {
			m, err := NewManager(&ManagerOptions{CacheTTL: ttl}, logging.NewRingBuffer(1, io.Discard))
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() { done <- m.Close() }()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatalf("Close did not return (ttl %v)", ttl)
			}
		}
	}
}

// Expectation: Close should close every file system exactly once and refuse further use.
func Test_Manager_Close_Success(t *testing.T) {
	m, mem, layer, _ := testManager(t, nil)

	_, err := m.Resolve(t.Context(), "zip:mem:///a.zip!/inner.txt")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	require.Equal(t, int32(1), layer.mounted[0].closed.Load())
	require.Equal(t, int32(1), mem.fsys.closed.Load())
	require.Empty(t, m.Mounts())

	_, err = m.Resolve(t.Context(), "mem:///a.zip")
	require.ErrorIs(t, err, ErrClosed)
}
