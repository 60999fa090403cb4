package zipfs

import (
	"errors"
	"fmt"

	"github.com/desertwitch/zipvfs/internal/archive"
)

var (
	errMissingArgument = errors.New("missing argument")
	errMalformedName   = errors.New("malformed entry name")
	errPathConflict    = errors.New("conflicting entries")
	errManifestSize    = errors.New("manifest too large")
)

// ClosedContainerError is returned for content access to a file system
// whose container was closed. It wraps [archive.ErrClosed].
type ClosedContainerError struct {
	Archive string
	Path    string
}

func (e *ClosedContainerError) Error() string {
	return fmt.Sprintf("cannot access %q in %q: %v", e.Path, e.Archive, archive.ErrClosed)
}

func (e *ClosedContainerError) Unwrap() error {
	return archive.ErrClosed
}
