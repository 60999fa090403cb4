package zipfs

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/ziptest"
	"github.com/stretchr/testify/require"
)

// Expectation: entryPath should normalize names and reject escaping ones.
func Test_entryPath_Success(t *testing.T) {
	for name, want := range map[string]string{
		"a.txt":             "/a.txt",
		"dir/":              "/dir",
		"/file.txt":         "/file.txt",
		"//nested/file.txt": "/nested/file.txt",
		"a/./b/../c":        "/a/c",
		"./":                "/",
	} {
		p, err := entryPath(name)
		require.NoError(t, err, name)
		require.Equal(t, want, p, name)
	}

	for _, name := range []string{"", "../evil", "a/../../evil", "nul\x00byte"} {
		_, err := entryPath(name)
		require.ErrorIs(t, err, errMalformedName, name)
	}
}

// Expectation: Ancestors of nested entries should be synthesized as folders.
func Test_buildIndex_Ancestors_Success(t *testing.T) {
	fsys, _ := testFS(t, "zip", []ziptest.File{
		{Name: "lib/sub/Foo.txt", Content: []byte("foo")},
		{Name: "lib/Bar.txt", Content: []byte("bar")},
	}, ziptest.Options{})

	require.Equal(t, 5, fsys.Len())

	root := mustResolve(t, fsys, "/")
	require.Equal(t, vfs.TypeFolder, root.Type())
	children, err := root.Children()
	require.NoError(t, err)
	require.Equal(t, []string{"lib"}, children)

	lib := mustResolve(t, fsys, "/lib")
	require.Equal(t, vfs.TypeFolder, lib.Type())
	require.Nil(t, lib.Entry())
	children, err = lib.Children()
	require.NoError(t, err)
	require.Equal(t, []string{"Bar.txt", "sub"}, children)

	foo := mustResolve(t, fsys, "/lib/sub/Foo.txt")
	require.Equal(t, vfs.TypeFile, foo.Type())
	require.Equal(t, []byte("foo"), readAll(t, foo))
}

// Expectation: A directory entry should supersede a synthesized folder.
func Test_buildIndex_DirectorySupersedes_Success(t *testing.T) {
	tnow := time.Now()

	fsys, _ := testFS(t, "zip", []ziptest.File{
		{Name: "lib/Foo.txt", Content: []byte("foo")},
		{Name: "lib/", Modified: tnow},
	}, ziptest.Options{})

	lib := mustResolve(t, fsys, "/lib")
	require.Equal(t, vfs.TypeFolder, lib.Type())
	require.NotNil(t, lib.Entry())
	require.Equal(t, "lib/", lib.Entry().Name)

	mod, err := lib.LastModified()
	require.NoError(t, err)
	require.True(t, mod.Equal(tnow.UTC().Truncate(2*time.Second)) || mod.Equal(tnow.UTC().Truncate(time.Second)))

	children, err := lib.Children()
	require.NoError(t, err)
	require.Equal(t, []string{"Foo.txt"}, children)
}

// Expectation: The first of duplicate file entries should win, the others are logged.
func Test_buildIndex_Duplicate_Success(t *testing.T) {
	fsys, rbuf := testFS(t, "zip", []ziptest.File{
		{Name: "a.txt", Content: []byte("first")},
		{Name: "a.txt", Content: []byte("second")},
	}, ziptest.Options{})

	require.Equal(t, []byte("first"), readAll(t, mustResolve(t, fsys, "/a.txt")))

	found := false
	for _, line := range rbuf.Lines() {
		if strings.Contains(line, "duplicate entry") {
			found = true
		}
	}
	require.True(t, found)
}

// Expectation: A file where a folder is needed should fail the whole index.
func Test_buildIndex_Conflict_Error(t *testing.T) {
	for name, files := range map[string][]ziptest.File{
		"file at synthesized folder": {
			{Name: "lib/Foo.txt", Content: []byte("foo")},
			{Name: "lib", Content: []byte("file")},
		},
		"file as ancestor": {
			{Name: "lib", Content: []byte("file")},
			{Name: "lib/Foo.txt", Content: []byte("foo")},
		},
		"file at real folder": {
			{Name: "lib/"},
			{Name: "lib/Foo.txt", Content: []byte("foo")},
			{Name: "lib", Content: []byte("file")},
		},
		"real folder at file": {
			{Name: "lib", Content: []byte("file")},
			{Name: "lib/"},
			{Name: "lib/Foo.txt", Content: []byte("foo")},
		},
	} {
		t.Run(name, func(t *testing.T) {
			path := ziptest.Write(t, filepath.Join(t.TempDir(), "conflict.zip"), files, ziptest.Options{})

			fsys, err := New("zip", "", path, DefaultOptions(), &Metrics{}, logging.NewRingBuffer(10, io.Discard))
			require.NoError(t, err)
			defer fsys.Close()

			err = fsys.Init()
			var oerr *archive.OpenError
			require.ErrorAs(t, err, &oerr)
			require.ErrorIs(t, err, errPathConflict)

			_, err = fsys.Resolve("/lib/Foo.txt")
			require.ErrorIs(t, err, errPathConflict)
			require.True(t, fsys.cont.isClosed())
		})
	}
}

// Expectation: An entry name escaping the root should fail the whole index.
func Test_buildIndex_Malformed_Error(t *testing.T) {
	path := ziptest.Write(t, filepath.Join(t.TempDir(), "evil.zip"), []ziptest.File{
		{Name: "ok.txt", Content: []byte("ok")},
		{Name: "../../etc/passwd", Content: []byte("evil")},
	}, ziptest.Options{})

	fsys, err := New("zip", "", path, DefaultOptions(), &Metrics{}, logging.NewRingBuffer(10, io.Discard))
	require.NoError(t, err)
	defer fsys.Close()

	err = fsys.Init()
	var oerr *archive.OpenError
	require.ErrorAs(t, err, &oerr)
	require.ErrorIs(t, err, errMalformedName)
}
