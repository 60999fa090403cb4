package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for any read from a [Reader] that was closed.
	ErrClosed = errors.New("archive is closed")

	// ErrFormat is returned when the archive structure is malformed or truncated.
	ErrFormat = errors.New("not a valid zip archive")

	// ErrChecksum is returned when the extracted content fails CRC32 verification.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrAlgorithm is returned for entries with an unsupported compression method.
	ErrAlgorithm = errors.New("unsupported compression method")

	// ErrEncrypted is returned for entries which are encrypted.
	ErrEncrypted = errors.New("encrypted entries are not supported")

	errNegativeOffset = errors.New("negative offset")
)

// OpenError is returned when an archive cannot be opened or indexed.
// No partial view of the archive is ever exposed alongside it.
type OpenError struct {
	Archive string
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open archive %q: %v", e.Archive, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// VolumeMissingError is returned when a split archive is missing one of
// the volumes preceding its last volume. It wraps [fs.ErrNotExist].
type VolumeMissingError struct {
	Archive string
	Volume  string
	Err     error
}

func (e *VolumeMissingError) Error() string {
	return fmt.Sprintf("archive %q: missing split volume %q: %v", e.Archive, e.Volume, e.Err)
}

func (e *VolumeMissingError) Unwrap() error {
	return e.Err
}

// EntryReadError is returned when the content of a single entry cannot
// be extracted, while the rest of the archive remains usable.
type EntryReadError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *EntryReadError) Error() string {
	return fmt.Sprintf("archive %q: failed to read entry %q: %v", e.Archive, e.Entry, e.Err)
}

func (e *EntryReadError) Unwrap() error {
	return e.Err
}
