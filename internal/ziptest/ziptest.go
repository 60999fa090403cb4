// Package ziptest writes ZIP archives for tests, including the split
// (multi-volume) and zip64 layouts the standard writers cannot produce.
package ziptest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

// Compression methods understood by [Write].
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

const (
	uint16max = 0xffff
	uint32max = 0xffffffff
)

// File is one entry to write. Names ending in "/" are directories.
type File struct {
	Name     string
	Content  []byte
	Modified time.Time
	Method   uint16

	// RawName replaces Name with bytes written without the UTF-8 flag.
	RawName []byte

	// CRC32 overrides the computed checksum when non-zero.
	CRC32 uint32

	// ExtraSize is added to the uncompressed size recorded in the
	// central directory, which describes a truncated entry.
	ExtraSize uint64
}

// Options controls the layout of the written archive.
type Options struct {
	// VolumeSize splits the archive into volumes of this size. The end
	// records always stay whole within the last volume, so it may be larger.
	VolumeSize int64

	// Zip64 forces zip64 extra fields and end records for every entry.
	Zip64 bool

	// Comment is the archive comment.
	Comment string

	// Prefix is data written before the archive (single volume only),
	// recorded offsets do not account for it.
	Prefix []byte
}

type record struct {
	file   File
	name   []byte
	flags  uint16
	crc    uint32
	data   []byte
	offset int64
}

// Write writes the archive to path and returns path. For split archives
// path receives the last volume, the preceding volumes are written beside
// it as "name.z01", "name.z02" and so on.
func Write(t testing.TB, path string, files []File, opts Options) string {
	t.Helper()

	var out bytes.Buffer

	split := opts.VolumeSize > 0
	if split {
		le(&out, uint32(0x08074b50))
	} else {
		out.Write(opts.Prefix)
	}
	origin := int64(len(opts.Prefix)) // offsets are recorded relative to the archive start
	if split {
		origin = 0
	}

	records := make([]*record, 0, len(files))
	for _, f := range files {
		rec := &record{file: f, name: []byte(f.Name), flags: 0x800}
		if f.RawName != nil {
			rec.name = f.RawName
			rec.flags = 0
		}
		rec.crc = crc32.ChecksumIEEE(f.Content)
		if f.CRC32 != 0 {
			rec.crc = f.CRC32
		}
		rec.data = compress(t, f)
		rec.offset = int64(out.Len())

		writeLocalHeader(&out, rec, opts.Zip64)
		records = append(records, rec)
	}

	var cd bytes.Buffer
	cdStart := int64(out.Len())
	cdSize := int64(0)
	for _, rec := range records {
		cdSize += 46 + int64(len(rec.name)) + int64(len(centralExtra(rec, opts.Zip64, 0)))
	}
	cdEnd := cdStart + cdSize

	tailStart := cdEnd
	if opts.Zip64 {
		tailStart += 56 // zip64 end record, followed by locator and end record
	}

	lastDisk := int64(0)
	if split {
		lastDisk = tailStart / opts.VolumeSize
	}
	diskOf := func(pos int64) int64 {
		if !split {
			return 0
		}

		return min(pos/opts.VolumeSize, lastDisk)
	}
	relOf := func(pos int64) int64 {
		if !split {
			return pos - origin
		}

		return pos - diskOf(pos)*opts.VolumeSize
	}

	for _, rec := range records {
		writeCentralHeader(&cd, rec, opts.Zip64, diskOf(rec.offset), relOf(rec.offset))
	}
	require.Equal(t, cdSize, int64(cd.Len()))
	out.Write(cd.Bytes())

	n := uint64(len(records))
	if opts.Zip64 {
		le(&out, uint32(0x06064b50))
		le(&out, uint64(44))
		le(&out, uint16(45))
		le(&out, uint16(45))
		le(&out, uint32(lastDisk))
		le(&out, uint32(diskOf(cdStart)))
		le(&out, n)
		le(&out, n)
		le(&out, uint64(cdSize))
		le(&out, uint64(relOf(cdStart)))

		le(&out, uint32(0x07064b50))
		le(&out, uint32(diskOf(cdEnd)))
		le(&out, uint64(relOf(cdEnd)))
		le(&out, uint32(lastDisk+1))
	}

	le(&out, uint32(0x06054b50))
	le(&out, uint16(lastDisk))
	le(&out, uint16(diskOf(cdStart)))
	if opts.Zip64 {
		le(&out, uint16(uint16max))
		le(&out, uint16(uint16max))
		le(&out, uint32(uint32max))
		le(&out, uint32(uint32max))
	} else {
		le(&out, uint16(n))
		le(&out, uint16(n))
		le(&out, uint32(cdSize))
		le(&out, uint32(relOf(cdStart)))
	}
	le(&out, uint16(len(opts.Comment)))
	out.WriteString(opts.Comment)

	data := out.Bytes()
	for disk := range lastDisk {
		chunk := data[disk*opts.VolumeSize : (disk+1)*opts.VolumeSize]
		require.NoError(t, os.WriteFile(VolumePath(path, int(disk)+1), chunk, 0o644))
	}
	require.NoError(t, os.WriteFile(path, data[lastDisk*max(opts.VolumeSize, 0):], 0o644))

	return path
}

// VolumePath returns the path of the n-th volume preceding lastPath.
func VolumePath(lastPath string, n int) string {
	ext := filepath.Ext(lastPath)

	return strings.TrimSuffix(lastPath, ext) + fmt.Sprintf(".z%02d", n)
}

func compress(t testing.TB, f File) []byte {
	t.Helper()

	if f.Method != Deflate {
		return f.Content
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(f.Content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func dosDateTime(t time.Time) (uint16, uint16) {
	if t.IsZero() {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	t = t.UTC()
	date := uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	clock := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)

	return date, clock
}

func writeLocalHeader(out *bytes.Buffer, rec *record, zip64 bool) {
	date, clock := dosDateTime(rec.file.Modified)

	var extra bytes.Buffer
	if zip64 {
		le(&extra, uint16(0x0001))
		le(&extra, uint16(16))
		le(&extra, uint64(len(rec.file.Content)))
		le(&extra, uint64(len(rec.data)))
	}

	le(out, uint32(0x04034b50))
	le(out, version(zip64))
	le(out, rec.flags)
	le(out, rec.file.Method)
	le(out, clock)
	le(out, date)
	le(out, rec.crc)
	if zip64 {
		le(out, uint32(uint32max))
		le(out, uint32(uint32max))
	} else {
		le(out, uint32(len(rec.data)))
		le(out, uint32(len(rec.file.Content)))
	}
	le(out, uint16(len(rec.name)))
	le(out, uint16(extra.Len()))
	out.Write(rec.name)
	out.Write(extra.Bytes())
	out.Write(rec.data)
}

func centralExtra(rec *record, zip64 bool, offset int64) []byte {
	var extra bytes.Buffer
	if zip64 {
		le(&extra, uint16(0x0001))
		le(&extra, uint16(24))
		le(&extra, rec.centralSize())
		le(&extra, uint64(len(rec.data)))
		le(&extra, uint64(offset))
	}

	return extra.Bytes()
}

func writeCentralHeader(out *bytes.Buffer, rec *record, zip64 bool, disk, offset int64) {
	date, clock := dosDateTime(rec.file.Modified)
	extra := centralExtra(rec, zip64, offset)

	le(out, uint32(0x02014b50))
	le(out, uint16(3<<8|45))
	le(out, version(zip64))
	le(out, rec.flags)
	le(out, rec.file.Method)
	le(out, clock)
	le(out, date)
	le(out, rec.crc)
	if zip64 {
		le(out, uint32(uint32max))
		le(out, uint32(uint32max))
	} else {
		le(out, uint32(len(rec.data)))
		le(out, uint32(rec.centralSize()))
	}
	le(out, uint16(len(rec.name)))
	le(out, uint16(len(extra)))
	le(out, uint16(0)) // comment length
	le(out, uint16(disk))
	le(out, uint16(0))         // internal attributes
	le(out, uint32(0o644)<<16) // external attributes
	if zip64 {
		le(out, uint32(uint32max))
	} else {
		le(out, uint32(offset))
	}
	out.Write(rec.name)
	out.Write(extra)
}

// centralSize returns the uncompressed size recorded in the central directory.
func (rec *record) centralSize() uint64 {
	return uint64(len(rec.file.Content)) + rec.file.ExtraSize
}

func version(zip64 bool) uint16 {
	if zip64 {
		return 45
	}

	return 20
}

func le(out *bytes.Buffer, v any) {
	_ = binary.Write(out, binary.LittleEndian, v)
}
