package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Paths should be made absolute and cleaned, never climbing above the root.
func Test_CleanPath_Success(t *testing.T) {
	tests := map[string]string{
		"":             "/",
		"/":            "/",
		"a/b":          "/a/b",
		"/a//b/":       "/a/b",
		"/a/./b/../c":  "/a/c",
		"/../../etc":   "/etc",
		"a/b/../../..": "/",
	}

	for in, want := range tests {
		require.Equal(t, want, CleanPath(in), in)
	}
}

// Expectation: The helpers should split and join paths consistently.
func Test_PathHelpers_Success(t *testing.T) {
	parent, ok := ParentPath("/a/b/c")
	require.True(t, ok)
	require.Equal(t, "/a/b", parent)

	parent, ok = ParentPath("/a")
	require.True(t, ok)
	require.Equal(t, "/", parent)

	_, ok = ParentPath("/")
	require.False(t, ok)

	require.Equal(t, "c", BaseName("/a/b/c/"))
	require.Empty(t, BaseName("/"))

	require.Equal(t, "/a/b", JoinPath("/a", "b"))
	require.Equal(t, "/b", JoinPath("/", "b"))

	require.Equal(t, 0, Depth("/"))
	require.Equal(t, 3, Depth("/a/b/c"))
}

// Expectation: Encoding should escape reserved characters and "!" and decode back.
func Test_EncodePath_Success(t *testing.T) {
	enc := EncodePath("/a b/c!d/é")
	require.Equal(t, "/a%20b/c%21d/%C3%A9", enc)

	dec, err := DecodeName(enc)
	require.NoError(t, err)
	require.Equal(t, "/a b/c!d/é", dec)

	_, err = DecodeName("%g0")
	require.Error(t, err)
}
