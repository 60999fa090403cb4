package archive

import (
	"strings"
	"time"
)

// Entry is one record of the central directory.
type Entry struct {
	// Name is the decoded entry name, with "/" as separator.
	// Directories are marked by a trailing "/".
	Name    string
	Comment string

	CreatorVersion uint16
	ReaderVersion  uint16
	Flags          uint16
	Method         uint16

	// Modified is taken from the extended timestamp extra field if
	// present, otherwise from the MS-DOS fields interpreted as UTC.
	Modified time.Time

	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	ExternalAttrs    uint32
	Extra            []byte

	// Zip64 reports whether the record carried a zip64 extra field.
	Zip64 bool

	disk   uint32 // volume of the local header
	offset uint64 // local header offset within the volume
}

// IsDir reports whether the entry describes a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// IsEncrypted reports whether the entry content is encrypted.
func (e *Entry) IsEncrypted() bool {
	return e.Flags&flagEncrypted != 0
}

// Disk returns the zero-based index of the volume holding the entry's local header.
func (e *Entry) Disk() uint32 {
	return e.disk
}

// HeaderOffset returns the offset of the entry's local header within its volume.
func (e *Entry) HeaderOffset() uint64 {
	return e.offset
}
