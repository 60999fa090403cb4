// Package vfs implements the virtual file system layer: URIs, the common
// file abstraction and a manager which mounts provider file systems,
// including file systems layered inside files of other file systems.
package vfs

import (
	"crypto/x509"
	"io"
	"slices"
	"time"
)

// FileType is the kind of a [File].
type FileType int

const (
	// TypeImaginary is a file which does not exist.
	TypeImaginary FileType = iota

	// TypeFolder is a file with children and without content.
	TypeFolder

	// TypeFile is a file with content and without children.
	TypeFile
)

func (t FileType) String() string {
	switch t {
	case TypeFolder:
		return "folder"
	case TypeFile:
		return "file"
	default:
		return "imaginary"
	}
}

// HasContent reports whether files of the type can be read.
func (t FileType) HasContent() bool {
	return t == TypeFile
}

// HasChildren reports whether files of the type can be listed.
func (t FileType) HasChildren() bool {
	return t == TypeFolder
}

// File is one file of a [FileSystem], it may or may not exist.
type File interface {
	URI() string
	Name() string
	Type() FileType
	Exists() bool

	Size() (int64, error)
	LastModified() (time.Time, error)
	Children() ([]string, error)
	Open() (io.ReadCloser, error)
	Attributes() (map[string]string, error)
	Certificates() ([]*x509.Certificate, error)

	IsWritable() bool
	Write() (io.WriteCloser, error)
	CreateFile() error
	CreateFolder() error
	Delete() error
}

// Seekable is implemented by files which offer random access reads.
type Seekable interface {
	OpenSeeker() (io.ReadSeekCloser, error)
}

// LocalFile is implemented by files backed by a path on the local disk.
type LocalFile interface {
	LocalPath() string
}

// FileSystem is a mounted file system of a provider.
type FileSystem interface {
	Root() (File, error)
	Resolve(path string) (File, error)
	Capabilities() Capabilities
	Close() error
}

// Capability is an operation a [FileSystem] supports.
type Capability string

const (
	CapReadContent      Capability = "read-content"
	CapLastModified     Capability = "last-modified"
	CapAttributes       Capability = "attributes"
	CapListChildren     Capability = "list-children"
	CapRandomAccessRead Capability = "random-access-read"
	CapCertificates     Capability = "certificates"
	CapWriteContent     Capability = "write-content"
	CapCreate           Capability = "create"
	CapDelete           Capability = "delete"
)

// Capabilities is the set of operations a [FileSystem] supports.
type Capabilities map[Capability]struct{}

// NewCapabilities returns a set of the given capabilities.
func NewCapabilities(caps ...Capability) Capabilities {
	c := make(Capabilities, len(caps))
	for _, cp := range caps {
		c[cp] = struct{}{}
	}

	return c
}

// Has reports whether cp is in the set.
func (c Capabilities) Has(cp Capability) bool {
	_, ok := c[cp]

	return ok
}

// List returns the capabilities in sorted order.
func (c Capabilities) List() []Capability {
	list := make([]Capability, 0, len(c))
	for cp := range c {
		list = append(list, cp)
	}
	slices.Sort(list)

	return list
}
