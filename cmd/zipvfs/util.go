package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/desertwitch/zipvfs/internal/httpfs"
	"github.com/desertwitch/zipvfs/internal/localfs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/zipfs"
)

var (
	uriPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

	errEmptyPath = errors.New("empty path")
)

// runtimeEnv is the virtual file system shared by all commands.
type runtimeEnv struct {
	rbuf *logging.RingBuffer
	zips *zipfs.Provider
	mgr  *vfs.Manager
}

func newRuntime(opts *programOpts, logOut io.Writer) (*runtimeEnv, error) {
	rbuf := logging.NewRingBuffer(opts.ringBufferSize, logOut)

	zopts := zipfs.DefaultOptions()
	zopts.Charset = opts.charset
	zopts.ZipManifest = opts.zipManifest
	zopts.MustCRC32.Store(opts.mustCRC32)

	zips, err := zipfs.NewProvider(zopts, rbuf)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive provider: %w", err)
	}

	mopts := vfs.DefaultManagerOptions()
	mopts.CacheTTL = opts.cacheTTL

	mgr, err := vfs.NewManager(mopts, rbuf)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	web := &httpfs.Provider{}

	mgr.Register("file", &localfs.Provider{})
	mgr.Register("http", web)
	mgr.Register("https", web)
	mgr.RegisterLayered("zip", zips)
	mgr.RegisterLayered("jar", zips)

	return &runtimeEnv{
		rbuf: rbuf,
		zips: zips,
		mgr:  mgr,
	}, nil
}

func (e *runtimeEnv) Close() error {
	return e.mgr.Close() //nolint:wrapcheck
}

// resolve returns the file system and file addressed by the arguments,
// an optional second argument is a path relative to the first.
func (e *runtimeEnv) resolve(ctx context.Context, args []string) (vfs.FileSystem, vfs.File, error) {
	raw, err := toURI(args[0])
	if err != nil {
		return nil, nil, err
	}

	u, err := vfs.ParseURI(raw)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}
	if len(args) > 1 {
		u = u.WithPath(vfs.JoinPath(u.Path, args[1]))
	}

	fsys, err := e.mgr.FileSystem(ctx, u)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	f, err := fsys.Resolve(u.Path)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}
	if !f.Exists() {
		return nil, nil, &vfs.PathError{Op: "resolve", URI: f.URI(), Err: vfs.ErrNotExist}
	}

	return fsys, f, nil
}

// toURI returns arguments with a scheme as they are, everything else is
// a path on the local disk. Local archives address the archive's root.
func toURI(arg string) (string, error) {
	if arg == "" {
		return "", errEmptyPath
	}

	if uriPattern.MatchString(arg) {
		return arg, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path of %q: %w", arg, err)
	}
	uri := "file://" + vfs.EncodePath(filepath.ToSlash(abs))

	switch strings.ToLower(filepath.Ext(abs)) {
	case ".zip":
		return "zip:" + uri + "!/", nil
	case ".jar":
		return "jar:" + uri + "!/", nil
	}

	return uri, nil
}

// logOutput returns where the events of a command are written to.
func logOutput(opts *programOpts, stderr io.Writer) io.Writer {
	if opts.verbose {
		return stderr
	}

	return io.Discard
}
