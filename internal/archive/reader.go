// Package archive implements a read-only ZIP reader which understands
// split (multi-volume) archives, zip64 records and prepended data.
package archive

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"math"

	"golang.org/x/text/encoding"
)

// Option configures a [Reader].
type Option func(*options)

type options struct {
	charset   encoding.Encoding
	verifyCRC bool
}

// WithCharset sets the charset for names and comments stored without
// the UTF-8 flag. See [LookupCharset] to resolve an IANA charset name.
func WithCharset(enc encoding.Encoding) Option {
	return func(o *options) {
		o.charset = enc
	}
}

// WithCRC32 controls if extracted content is verified against the
// recorded CRC32 checksum. Sizes are always verified. Default is true.
func WithCRC32(verify bool) Option {
	return func(o *options) {
		o.verifyCRC = verify
	}
}

// Reader provides access to the entries of an opened archive.
// It is safe for concurrent use, also after Close (which makes all
// further reads fail with [ErrClosed]).
type Reader struct {
	path    string
	vols    *volumeSet
	entries []*Entry
	comment string
	zip64   bool
	base    int64
	opts    options
}

// Open opens the archive whose (last) volume is at path. The volumes
// preceding it in a split archive are expected beside it, named as
// returned by [VolumePath]. A missing volume returns a
// [VolumeMissingError], any other failure an [OpenError].
func Open(path string, opts ...Option) (*Reader, error) {
	o := options{verifyCRC: true}
	for _, opt := range opts {
		opt(&o)
	}

	last, err := openVolume(path)
	if err != nil {
		return nil, &OpenError{Archive: path, Err: err}
	}

	end, err := readEndRecord(last)
	if err != nil {
		last.file.Close()

		return nil, &OpenError{Archive: path, Err: err}
	}

	vols := make([]*volume, 0, end.disks)
	for n := 1; n < end.disks; n++ {
		vp := VolumePath(path, n)

		v, err := openVolume(vp)
		if err != nil {
			closeVolumes(vols)
			last.file.Close()

			if errors.Is(err, fs.ErrNotExist) {
				return nil, &VolumeMissingError{Archive: path, Volume: vp, Err: err}
			}

			return nil, &OpenError{Archive: path, Err: err}
		}
		vols = append(vols, v)
	}
	if len(vols) > 0 {
		if err := checkSplitMarker(vols[0]); err != nil {
			closeVolumes(vols)
			last.file.Close()

			return nil, &OpenError{Archive: path, Err: err}
		}
	}
	vols = append(vols, last)

	set := newVolumeSet(vols)

	entries, base, err := readDirectory(set, end, o.charset)
	if err != nil {
		set.Close()

		return nil, &OpenError{Archive: path, Err: err}
	}

	return &Reader{
		path:    path,
		vols:    set,
		entries: entries,
		comment: decodeString(end.comment, o.charset),
		zip64:   end.zip64,
		base:    base,
		opts:    o,
	}, nil
}

// Path returns the path the archive was opened with.
func (r *Reader) Path() string {
	return r.path
}

// Volumes returns the paths of all volumes in order, the last one included.
func (r *Reader) Volumes() []string {
	return r.vols.Paths()
}

// Size returns the combined size of all volumes.
func (r *Reader) Size() int64 {
	return r.vols.Size()
}

// Entries returns the central directory records in their recorded order.
// The returned slice and entries must not be modified.
func (r *Reader) Entries() []*Entry {
	return r.entries
}

// Comment returns the archive comment.
func (r *Reader) Comment() string {
	return r.comment
}

// Zip64 reports whether the archive carries zip64 end records.
func (r *Reader) Zip64() bool {
	return r.zip64
}

// OpenRaw returns the still compressed data of an entry.
// The section may span multiple volumes.
func (r *Reader) OpenRaw(e *Entry) (*io.SectionReader, error) {
	sr, err := r.dataSection(e)
	if err != nil {
		return nil, &EntryReadError{Archive: r.path, Entry: e.Name, Err: err}
	}

	return sr, nil
}

// Open returns a reader of the uncompressed content of an entry.
// Content is verified once fully read, a mismatch in size or checksum
// is reported as an [EntryReadError] in place of [io.EOF].
func (r *Reader) Open(e *Entry) (io.ReadCloser, error) {
	if e.IsEncrypted() {
		return nil, &EntryReadError{Archive: r.path, Entry: e.Name, Err: ErrEncrypted}
	}

	dcomp := decompressor(e.Method)
	if dcomp == nil {
		return nil, &EntryReadError{Archive: r.path, Entry: e.Name, Err: fmt.Errorf("%w: %d", ErrAlgorithm, e.Method)}
	}

	sr, err := r.dataSection(e)
	if err != nil {
		return nil, &EntryReadError{Archive: r.path, Entry: e.Name, Err: err}
	}

	rc, err := dcomp(sr)
	if err != nil {
		return nil, &EntryReadError{Archive: r.path, Entry: e.Name, Err: err}
	}

	return &checksumReader{
		rc:      rc,
		hash:    crc32.NewIEEE(),
		entry:   e,
		archive: r.path,
		verify:  r.opts.verifyCRC,
	}, nil
}

// dataSection reads the local header of an entry and returns
// the section of the logical stream holding its data.
func (r *Reader) dataSection(e *Entry) (*io.SectionReader, error) {
	start, err := r.vols.offset(e.disk, e.offset)
	if err != nil {
		return nil, err
	}
	start += r.base

	var hdr [fileHeaderLen]byte
	if _, err := r.vols.ReadAt(hdr[:], start); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: local header beyond end of archive", ErrFormat)
		}

		return nil, fmt.Errorf("failed to read local header: %w", err)
	}

	b := readBuf(hdr[:])
	if b.uint32() != fileHeaderSignature {
		return nil, fmt.Errorf("%w: bad local header signature", ErrFormat)
	}
	b = b[22:] // versions, flags, method, time, date, crc, sizes
	nameLen := int64(b.uint16())
	extraLen := int64(b.uint16())

	if e.CompressedSize > math.MaxInt64 {
		return nil, fmt.Errorf("%w: implausible compressed size", ErrFormat)
	}
	size := int64(e.CompressedSize)
	data := start + fileHeaderLen + nameLen + extraLen

	if data+size > r.vols.Size() {
		return nil, fmt.Errorf("%w: entry data exceeds archive size", ErrFormat)
	}

	return io.NewSectionReader(r.vols, data, size), nil
}

// Close closes all volumes of the archive.
func (r *Reader) Close() error {
	return r.vols.Close()
}

// checksumReader verifies size and CRC32 of the content read through it.
type checksumReader struct {
	rc      io.ReadCloser
	hash    hash.Hash32
	nread   uint64
	entry   *Entry
	archive string
	verify  bool
	err     error
}

func (r *checksumReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	n, err := r.rc.Read(p)
	r.hash.Write(p[:n])
	r.nread += uint64(n) //nolint:gosec

	switch {
	case r.nread > r.entry.UncompressedSize:
		err = r.fail(fmt.Errorf("%w: content exceeds declared size", ErrFormat))
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		switch {
		case r.nread != r.entry.UncompressedSize:
			err = r.fail(io.ErrUnexpectedEOF)
		case r.verify && r.hash.Sum32() != r.entry.CRC32:
			err = r.fail(ErrChecksum)
		default:
			err = io.EOF
		}
	default:
		err = r.fail(err)
	}
	r.err = err

	return n, err
}

func (r *checksumReader) fail(err error) error {
	return &EntryReadError{Archive: r.archive, Entry: r.entry.Name, Err: err}
}

func (r *checksumReader) Close() error {
	return r.rc.Close() //nolint:wrapcheck
}
