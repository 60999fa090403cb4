// Package httpfs implements a read-only provider of "http:" and "https:"
// URIs. Every URI addresses a single file, there are no folders.
package httpfs

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

var (
	_ vfs.Provider   = (*Provider)(nil)
	_ vfs.FileSystem = (*FileSystem)(nil)
	_ vfs.File       = (*File)(nil)

	errStatus = errors.New("unexpected http status")

	capabilities = vfs.NewCapabilities(
		vfs.CapReadContent,
		vfs.CapLastModified,
		vfs.CapAttributes,
		vfs.CapCertificates,
	)
)

// Provider mounts one [FileSystem] per host.
type Provider struct {
	// Client performs the requests, nil uses [http.DefaultClient].
	Client *http.Client
}

// Open implements [vfs.Provider].
func (p *Provider) Open(_ context.Context, u *vfs.URI) (vfs.FileSystem, error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", vfs.ErrUnknownScheme, u.Scheme)
	}
	if u.Authority == "" {
		return nil, fmt.Errorf("%w: %q: missing host", vfs.ErrInvalidURI, u.String())
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileSystem{
		client: client,
		scheme: u.Scheme,
		host:   u.Authority,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// FileSystem is a read-only view of one host. Closing it cancels all
// requests still in flight.
type FileSystem struct {
	client *http.Client
	scheme string
	host   string

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
}

// Root returns the file at "/".
func (fsys *FileSystem) Root() (vfs.File, error) {
	return fsys.Resolve("/")
}

// Resolve returns the file at a path. Nothing is requested until
// the file is first asked about.
func (fsys *FileSystem) Resolve(p string) (vfs.File, error) {
	if err := fsys.ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", p, err)
	}

	return &File{fsys: fsys, path: vfs.CleanPath(p)}, nil
}

// Capabilities returns the operations the file system supports.
func (fsys *FileSystem) Capabilities() vfs.Capabilities {
	return capabilities
}

// Close cancels all requests in flight.
func (fsys *FileSystem) Close() error {
	fsys.cancel()

	return nil
}

// File is a remote file. Its metadata is fetched once with a HEAD
// request, a 404 response makes it imaginary.
type File struct {
	fsys *FileSystem
	path string

	headOnce sync.Once
	head     *http.Response
	headErr  error
}

// URI returns the URI of the file.
func (f *File) URI() string {
	return (&vfs.URI{Scheme: f.fsys.scheme, Authority: f.fsys.host, Path: f.path}).String()
}

// Name returns the last element of the path.
func (f *File) Name() string {
	return vfs.BaseName(f.path)
}

func (f *File) fetchHead() (*http.Response, error) {
	f.headOnce.Do(func() {
		req, err := http.NewRequestWithContext(f.fsys.ctx, http.MethodHead, f.URI(), nil)
		if err != nil {
			f.headErr = f.pathError("head", err)

			return
		}

		resp, err := f.fsys.client.Do(req)
		if err != nil {
			f.headErr = f.pathError("head", err)

			return
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			f.head = resp
		case http.StatusNotFound, http.StatusGone:
			f.headErr = f.pathError("head", vfs.ErrNotExist)
		default:
			f.headErr = f.pathError("head", fmt.Errorf("%w: %s", errStatus, resp.Status))
		}
	})

	return f.head, f.headErr
}

// Type returns [vfs.TypeFile] for files the host serves, otherwise [vfs.TypeImaginary].
func (f *File) Type() vfs.FileType {
	if _, err := f.fetchHead(); err != nil {
		return vfs.TypeImaginary
	}

	return vfs.TypeFile
}

// Exists reports whether the host serves the file.
func (f *File) Exists() bool {
	return f.Type() == vfs.TypeFile
}

// Size returns the announced content length, -1 if there was none.
func (f *File) Size() (int64, error) {
	resp, err := f.fetchHead()
	if err != nil {
		return 0, err
	}

	return resp.ContentLength, nil
}

// LastModified returns the time of the Last-Modified header,
// the zero time if there was none.
func (f *File) LastModified() (time.Time, error) {
	resp, err := f.fetchHead()
	if err != nil {
		return time.Time{}, err
	}

	v := resp.Header.Get("Last-Modified")
	if v == "" {
		return time.Time{}, nil
	}

	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, f.pathError("last-modified", err)
	}

	return t, nil
}

// Children always fails, remote files have none.
func (f *File) Children() ([]string, error) {
	return nil, f.pathError("children", vfs.ErrNotFolder)
}

// Open requests the content of the file.
func (f *File) Open() (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(f.fsys.ctx, http.MethodGet, f.URI(), nil)
	if err != nil {
		return nil, f.pathError("open", err)
	}

	resp, err := f.fsys.client.Do(req)
	if err != nil {
		return nil, f.pathError("open", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()

		return nil, f.pathError("open", vfs.ErrNotExist)
	default:
		resp.Body.Close()

		return nil, f.pathError("open", fmt.Errorf("%w: %s", errStatus, resp.Status))
	}
}

// Attributes returns the response headers, each with its first value.
func (f *File) Attributes() (map[string]string, error) {
	resp, err := f.fetchHead()
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(resp.Header))
	for _, k := range slices.Sorted(maps.Keys(resp.Header)) {
		attrs[k] = resp.Header.Get(k)
	}

	return attrs, nil
}

// Certificates returns the certificates the host presented, if any.
func (f *File) Certificates() ([]*x509.Certificate, error) {
	resp, err := f.fetchHead()
	if err != nil {
		return nil, err
	}
	if resp.TLS == nil {
		return nil, nil
	}

	return slices.Clone(resp.TLS.PeerCertificates), nil
}

// IsWritable always reports false.
func (f *File) IsWritable() bool {
	return false
}

// Write always fails with a [vfs.ReadOnlyError].
func (f *File) Write() (io.WriteCloser, error) {
	return nil, f.readOnly("write")
}

// CreateFile always fails with a [vfs.ReadOnlyError].
func (f *File) CreateFile() error {
	return f.readOnly("create-file")
}

// CreateFolder always fails with a [vfs.ReadOnlyError].
func (f *File) CreateFolder() error {
	return f.readOnly("create-folder")
}

// Delete always fails with a [vfs.ReadOnlyError].
func (f *File) Delete() error {
	return f.readOnly("delete")
}

func (f *File) readOnly(op string) error {
	return &vfs.ReadOnlyError{Op: op, Container: f.fsys.scheme + "://" + f.fsys.host, Path: f.path}
}

func (f *File) pathError(op string, err error) error {
	return &vfs.PathError{Op: op, URI: f.URI(), Err: err}
}
