package zipfs

import (
	"context"
	"fmt"

	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var _ vfs.LayeredProvider = (*Provider)(nil)

// Provider mounts [FileSystem] for the layered "zip" and "jar" schemes.
type Provider struct {
	Options *Options
	Metrics *Metrics

	rbuf *logging.RingBuffer
}

// NewProvider returns a pointer to a new [Provider].
// All file systems it mounts share the options and metrics.
func NewProvider(opts *Options, rbuf *logging.RingBuffer) (*Provider, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: need options", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}

	return &Provider{
		Options: opts,
		Metrics: &Metrics{},
		rbuf:    rbuf,
	}, nil
}

// OpenLayered opens and indexes the container at source.
func (p *Provider) OpenLayered(_ context.Context, u *vfs.URI, source string) (vfs.FileSystem, error) {
	fsys, err := New(u.Scheme, u.Outer, source, p.Options, p.Metrics, p.rbuf)
	if err != nil {
		return nil, err
	}

	if err := fsys.Init(); err != nil {
		return nil, err
	}

	return &Mounted{fsys}, nil
}

// Mounted adapts a [FileSystem] to [vfs.FileSystem].
type Mounted struct {
	*FileSystem
}

var _ vfs.FileSystem = (*Mounted)(nil)

// Root implements [vfs.FileSystem].
func (m *Mounted) Root() (vfs.File, error) {
	return m.Resolve("/")
}

// Resolve implements [vfs.FileSystem].
func (m *Mounted) Resolve(p string) (vfs.File, error) {
	n, err := m.FileSystem.Resolve(p)
	if err != nil {
		return nil, err
	}

	return n, nil
}

// Unwrap returns the [FileSystem] of a file system mounted by a [Provider].
func Unwrap(fsys vfs.FileSystem) (*FileSystem, bool) {
	m, ok := fsys.(*Mounted)
	if !ok {
		return nil, false
	}

	return m.FileSystem, true
}
