package filesystem

import (
	"io"
	"testing"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/localfs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/stretchr/testify/require"
)

// Expectation: NewFS should reject missing arguments and non-folder roots.
func Test_NewFS_Error(t *testing.T) {
	rbuf := logging.NewRingBuffer(10, io.Discard)

	_, err := NewFS(nil, "/", nil, rbuf)
	require.ErrorIs(t, err, errMissingArgument)

	_, err = NewFS(&localfs.FileSystem{}, "/", nil, nil)
	require.ErrorIs(t, err, errMissingArgument)

	_, zfs := testFS(t, defaultFiles())

	_, err = NewFS(zfsMounted(zfs), "/a.txt", nil, rbuf)
	require.ErrorIs(t, err, vfs.ErrNotFolder)

	_, err = NewFS(zfsMounted(zfs), "/missing", nil, rbuf)
	require.ErrorIs(t, err, vfs.ErrNotFolder)
}

// Expectation: The root should be a directory node with inode 1.
func Test_FS_Root_Success(t *testing.T) {
	fsys, _ := testFS(t, defaultFiles())

	node, err := fsys.Root()
	require.NoError(t, err)

	dn, ok := node.(*dirNode)
	require.True(t, ok)
	require.Equal(t, uint64(1), dn.inode)
	require.Equal(t, "/", dn.path)
}

// Expectation: A panic should occur when GenerateInode is called.
func Test_FS_GenerateInode_Panic(t *testing.T) {
	fsys, _ := testFS(t, defaultFiles())

	require.Panics(t, func() {
		fsys.GenerateInode(1, "test")
	})
}

// Expectation: Walk should visit every node with consistent inodes.
func Test_FS_Walk_Success(t *testing.T) {
	fsys, _ := testFS(t, defaultFiles())

	var paths []string
	inodes := make(map[uint64]string)

	err := fsys.Walk(t.Context(), func(path string, d *fuse.Dirent, _ fs.Node, a fuse.Attr) error {
		paths = append(paths, path)

		if d != nil {
			require.Equal(t, d.Inode, a.Inode)
		}
		prev, dup := inodes[a.Inode]
		require.False(t, dup, "inode of %q reused by %q", prev, path)
		inodes[a.Inode] = path

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"/", "/sub", "/sub/deep", "/sub/deep/c.txt", "/sub/b.txt", "/a.txt",
	}, paths)
}

// Expectation: Two filesystems over the same archive should produce identical inodes.
func Test_FS_Deterministic_Success(t *testing.T) {
	_, zfs := testFS(t, defaultFiles())
	rbuf := logging.NewRingBuffer(10, io.Discard)

	collect := func() map[string]uint64 {
		fsys, err := NewFS(zfsMounted(zfs), "/", nil, rbuf)
		require.NoError(t, err)

		inodes := make(map[string]uint64)
		require.NoError(t, fsys.Walk(t.Context(), func(path string, _ *fuse.Dirent, _ fs.Node, a fuse.Attr) error {
			inodes[path] = a.Inode

			return nil
		}))

		return inodes
	}

	require.Equal(t, collect(), collect())
}

// Expectation: A subfolder should be mountable as the root.
func Test_FS_SubRoot_Success(t *testing.T) {
	_, zfs := testFS(t, defaultFiles())

	fsys, err := NewFS(zfsMounted(zfs), "/sub", nil, logging.NewRingBuffer(10, io.Discard))
	require.NoError(t, err)

	var paths []string
	require.NoError(t, fsys.Walk(t.Context(), func(path string, _ *fuse.Dirent, _ fs.Node, _ fuse.Attr) error {
		paths = append(paths, path)

		return nil
	}))
	require.Equal(t, []string{"/", "/deep", "/deep/c.txt", "/b.txt"}, paths)
}
