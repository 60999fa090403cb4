package filesystem

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/zipfs"
	"github.com/desertwitch/zipvfs/internal/ziptest"
	"github.com/stretchr/testify/require"
)

var testModified = time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)

// testFS returns a filesystem over an archive of the given files.
func testFS(t *testing.T, files []ziptest.File) (*FS, *zipfs.FileSystem) {
	t.Helper()

	for i := range files {
		if files[i].Modified.IsZero() {
			files[i].Modified = testModified
		}
	}

	path := ziptest.Write(t, filepath.Join(t.TempDir(), "test.zip"), files, ziptest.Options{})
	rbuf := logging.NewRingBuffer(100, io.Discard)

	zfs, err := zipfs.New("zip", "", path, zipfs.DefaultOptions(), &zipfs.Metrics{}, rbuf)
	require.NoError(t, err)
	t.Cleanup(func() { zfs.Close() })

	fsys, err := NewFS(&zipfs.Mounted{FileSystem: zfs}, "/", nil, rbuf)
	require.NoError(t, err)

	return fsys, zfs
}

func defaultFiles() []ziptest.File {
	return []ziptest.File{
		{Name: "a.txt", Content: []byte("A")},
		{Name: "sub/", Content: nil},
		{Name: "sub/b.txt", Content: []byte("BBBB"), Method: ziptest.Deflate},
		{Name: "sub/deep/c.txt", Content: []byte("C")},
	}
}

func zfsMounted(zfs *zipfs.FileSystem) *zipfs.Mounted {
	return &zipfs.Mounted{FileSystem: zfs}
}
