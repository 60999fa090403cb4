package vfs

import (
	"net/url"
	"path"
	"strings"
)

// CleanPath returns the absolute, cleaned form of a path within a file system.
// Attempts to climb above the root stay at the root.
func CleanPath(p string) string {
	return path.Clean("/" + p)
}

// ParentPath returns the path of the parent, false for the root.
func ParentPath(p string) (string, bool) {
	p = CleanPath(p)
	if p == "/" {
		return "", false
	}

	return path.Dir(p), true
}

// BaseName returns the last element of a path, empty for the root.
func BaseName(p string) string {
	p = CleanPath(p)
	if p == "/" {
		return ""
	}

	return path.Base(p)
}

// JoinPath joins a child name onto a parent path.
func JoinPath(parent string, name string) string {
	return CleanPath(parent + "/" + name)
}

// Depth returns the number of elements of a path, zero for the root.
func Depth(p string) int {
	p = CleanPath(p)
	if p == "/" {
		return 0
	}

	return strings.Count(p, "/")
}

// EncodePath percent-encodes each element of a path for use in a URI.
// The "!" separator of layered URIs is always encoded.
func EncodePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = strings.ReplaceAll(url.PathEscape(s), "!", "%21")
	}

	return strings.Join(segs, "/")
}

// DecodeName decodes a percent-encoded name or path.
func DecodeName(s string) (string, error) {
	return url.PathUnescape(s) //nolint:wrapcheck
}
