package vfs

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotExist is returned for operations which need an existing file.
	ErrNotExist = fs.ErrNotExist

	// ErrReadOnly is wrapped by every [ReadOnlyError].
	ErrReadOnly = errors.New("file system is read-only")

	// ErrNotFile is returned for content operations on files without content.
	ErrNotFile = errors.New("not a file")

	// ErrNotFolder is returned for listing files without children.
	ErrNotFolder = errors.New("not a folder")

	// ErrInvalidURI is returned for URIs which cannot be parsed.
	ErrInvalidURI = errors.New("invalid uri")

	// ErrUnknownScheme is returned for URIs without a registered provider.
	ErrUnknownScheme = errors.New("no provider registered for scheme")

	// ErrClosed is returned for any use of a closed [Manager].
	ErrClosed = errors.New("manager is closed")
)

// PathError records an error and the operation and file that caused it.
type PathError struct {
	Op  string
	URI string
	Err error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// ReadOnlyError is returned for any attempt to modify a read-only file
// system. Container is the file system holding the file and Path is
// the path of the file within it.
type ReadOnlyError struct {
	Op        string
	Container string
	Path      string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s %q in %q: %v", e.Op, e.Path, e.Container, ErrReadOnly)
}

func (e *ReadOnlyError) Unwrap() error {
	return ErrReadOnly
}
