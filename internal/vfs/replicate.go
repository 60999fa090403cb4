package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
)

// Replicator provides a local path holding the content of a file, so
// that a layered file system can be opened from it. The returned
// cleanup function must be called once the path is no longer needed.
type Replicator interface {
	Replicate(ctx context.Context, f File) (string, func() error, error)
}

// TempReplicator uses the path of local files as is and copies the
// content of all other files into temporary files.
type TempReplicator struct {
	// Dir receives the temporary files, empty for the default.
	Dir string
}

// Replicate implements [Replicator].
func (r *TempReplicator) Replicate(ctx context.Context, f File) (string, func() error, error) {
	if lf, ok := f.(LocalFile); ok {
		return lf.LocalPath(), func() error { return nil }, nil
	}

	switch f.Type() {
	case TypeFile:
	case TypeImaginary:
		return "", nil, &PathError{Op: "replicate", URI: f.URI(), Err: ErrNotExist}
	default:
		return "", nil, &PathError{Op: "replicate", URI: f.URI(), Err: ErrNotFile}
	}

	rc, err := f.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(r.Dir, "zipvfs-*"+path.Ext(f.Name()))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	name := tmp.Name()

	_, err = io.Copy(tmp, &contextReader{ctx: ctx, r: rc})
	err = errors.Join(err, tmp.Close())
	if err != nil {
		os.Remove(name)

		return "", nil, fmt.Errorf("failed to copy %q: %w", f.URI(), err)
	}

	return name, func() error { return os.Remove(name) }, nil
}

// contextReader stops reading once its context is done.
type contextReader struct {
	ctx context.Context //nolint:containedctx
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return r.r.Read(p) //nolint:wrapcheck
}
