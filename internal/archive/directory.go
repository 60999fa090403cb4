package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"golang.org/x/text/encoding"
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	directory64LocLen  = 20
	directory64EndLen  = 56

	zip64ExtraID       = 0x0001
	extTimeExtraID     = 0x5455
	unicodePathExtraID = 0x7075

	flagEncrypted = 0x1
	flagUTF8      = 0x800

	uint16max = 0xffff
	uint32max = 0xffffffff
)

// readBuf consumes little-endian values from the front of a byte slice.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]

	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]

	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]

	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]

	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]

	return b2
}

// endRecord is the merged view of the end of central directory record,
// the zip64 locator and the zip64 end of central directory record.
type endRecord struct {
	disk       uint32
	dirDisk    uint32
	dirRecords uint64
	dirSize    uint64
	dirOffset  uint64
	comment    []byte

	pos   int64 // position of the end record within the last volume
	disks int   // number of volumes, including the last

	zip64       bool
	loc64Disk   uint32
	loc64Offset uint64
}

// readEndRecord locates the end of central directory record (and the
// zip64 locator directly preceding it) within the last volume.
func readEndRecord(last *volume) (*endRecord, error) {
	n := min(last.size, directoryEndLen+uint16max)
	if n < directoryEndLen {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrFormat, last.size)
	}

	buf := make([]byte, n)
	if _, err := last.file.ReadAt(buf, last.size-n); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read end record: %w", err)
	}

	p := findDirectoryEnd(buf)
	if p < 0 {
		return nil, fmt.Errorf("%w: end of central directory not found", ErrFormat)
	}

	b := readBuf(buf[p+4:])
	end := &endRecord{
		disk:    uint32(b.uint16()),
		dirDisk: uint32(b.uint16()),
	}
	_ = b.uint16() // records on this disk
	end.dirRecords = uint64(b.uint16())
	end.dirSize = uint64(b.uint32())
	end.dirOffset = uint64(b.uint32())
	end.comment = b.sub(int(b.uint16()))
	end.pos = last.size - n + int64(p)
	end.disks = int(end.disk) + 1

	if end.pos >= directory64LocLen {
		loc := make([]byte, directory64LocLen)
		if _, err := last.file.ReadAt(loc, end.pos-directory64LocLen); err != nil {
			return nil, fmt.Errorf("failed to read zip64 locator: %w", err)
		}

		lb := readBuf(loc)
		if lb.uint32() == directory64LocSignature {
			end.zip64 = true
			end.loc64Disk = lb.uint32()
			end.loc64Offset = lb.uint64()
			if total := lb.uint32(); total > 0 {
				end.disks = int(total)
			}
		}
	}

	if end.disks > maxVolumes {
		return nil, fmt.Errorf("%w: implausible volume count %d", ErrFormat, end.disks)
	}

	return end, nil
}

// findDirectoryEnd searches backwards for the end record signature,
// accepting only candidates whose comment fits within the buffer.
func findDirectoryEnd(b []byte) int {
	for i := len(b) - directoryEndLen; i >= 0; i-- {
		if b[i] == 'P' && b[i+1] == 'K' && b[i+2] == 0x05 && b[i+3] == 0x06 {
			n := int(b[i+directoryEndLen-2]) | int(b[i+directoryEndLen-1])<<8
			if i+directoryEndLen+n <= len(b) {
				return i
			}
		}
	}

	return -1
}

// readDirectory64End overlays the zip64 end record onto end.
func readDirectory64End(set *volumeSet, end *endRecord) error {
	off, err := set.offset(end.loc64Disk, end.loc64Offset)
	if err != nil {
		return err
	}

	buf := make([]byte, directory64EndLen)
	if _, err := set.ReadAt(buf, off); err != nil {
		return fmt.Errorf("failed to read zip64 end record: %w", err)
	}

	b := readBuf(buf)
	if b.uint32() != directory64EndSignature {
		return fmt.Errorf("%w: bad zip64 end record signature", ErrFormat)
	}

	b = b[12:]     // record size, versions
	_ = b.uint32() // number of this disk
	end.dirDisk = b.uint32()
	_ = b.uint64() // records on this disk
	end.dirRecords = b.uint64()
	end.dirSize = b.uint64()
	end.dirOffset = b.uint64()

	return nil
}

// readDirectory reads and parses the whole central directory.
// The returned base is the length of any data prepended to a
// single-volume archive, which applies to all recorded offsets.
func readDirectory(set *volumeSet, end *endRecord, charset encoding.Encoding) (entries []*Entry, base int64, err error) {
	if end.zip64 {
		if err := readDirectory64End(set, end); err != nil {
			return nil, 0, err
		}
	}

	start, err := set.offset(end.dirDisk, end.dirOffset)
	if err != nil {
		return nil, 0, err
	}

	if len(set.vols) == 1 && !end.zip64 {
		if b := end.pos - int64(end.dirSize) - start; b > 0 { //nolint:gosec
			base = b
			start += base
		}
	}

	if end.dirSize > uint64(set.Size()-start) { //nolint:gosec
		return nil, 0, fmt.Errorf("%w: central directory exceeds archive size", ErrFormat)
	}

	buf := make([]byte, end.dirSize)
	if _, err := set.ReadAt(buf, start); err != nil {
		return nil, 0, fmt.Errorf("failed to read central directory: %w", err)
	}

	b := readBuf(buf)
	entries = make([]*Entry, 0, min(end.dirRecords, uint64(len(buf)/directoryHeaderLen)))

	for len(b) >= 4 && binary.LittleEndian.Uint32(b) == directoryHeaderSignature {
		e, err := readDirectoryHeader(&b, charset)
		if err != nil {
			return nil, 0, fmt.Errorf("central directory record %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}

	count := uint64(len(entries))
	if (end.zip64 && count != end.dirRecords) || (!end.zip64 && uint16(count) != uint16(end.dirRecords)) { //nolint:gosec
		return nil, 0, fmt.Errorf("%w: expected %d central directory records, found %d", ErrFormat, end.dirRecords, count)
	}

	return entries, base, nil
}

// readDirectoryHeader parses one central directory record from the front of b.
func readDirectoryHeader(b *readBuf, charset encoding.Encoding) (*Entry, error) {
	if len(*b) < directoryHeaderLen {
		return nil, fmt.Errorf("%w: truncated header", ErrFormat)
	}

	_ = b.uint32() // signature
	e := &Entry{}
	e.CreatorVersion = b.uint16()
	e.ReaderVersion = b.uint16()
	e.Flags = b.uint16()
	e.Method = b.uint16()
	dosTime := b.uint16()
	dosDate := b.uint16()
	e.CRC32 = b.uint32()
	compressed := b.uint32()
	uncompressed := b.uint32()
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	disk := b.uint16()
	_ = b.uint16() // internal attributes
	e.ExternalAttrs = b.uint32()
	offset := b.uint32()

	if len(*b) < nameLen+extraLen+commentLen {
		return nil, fmt.Errorf("%w: truncated header", ErrFormat)
	}
	rawName := b.sub(nameLen)
	e.Extra = b.sub(extraLen)
	rawComment := b.sub(commentLen)

	e.CompressedSize = uint64(compressed)
	e.UncompressedSize = uint64(uncompressed)
	e.disk = uint32(disk)
	e.offset = uint64(offset)

	needUSize := uncompressed == uint32max
	needCSize := compressed == uint32max
	needOffset := offset == uint32max
	needDisk := disk == uint16max

	var unicodeName string
	var modified time.Time

	for extra := readBuf(e.Extra); len(extra) >= 4; {
		id := extra.uint16()
		size := int(extra.uint16())
		if len(extra) < size {
			return nil, fmt.Errorf("%w: truncated extra field", ErrFormat)
		}
		field := extra.sub(size)

		switch id {
		case zip64ExtraID:
			e.Zip64 = true
			if needUSize {
				if len(field) < 8 {
					return nil, fmt.Errorf("%w: short zip64 extra field", ErrFormat)
				}
				needUSize = false
				e.UncompressedSize = field.uint64()
			}
			if needCSize {
				if len(field) < 8 {
					return nil, fmt.Errorf("%w: short zip64 extra field", ErrFormat)
				}
				needCSize = false
				e.CompressedSize = field.uint64()
			}
			if needOffset {
				if len(field) < 8 {
					return nil, fmt.Errorf("%w: short zip64 extra field", ErrFormat)
				}
				needOffset = false
				e.offset = field.uint64()
			}
			if needDisk {
				if len(field) < 4 {
					return nil, fmt.Errorf("%w: short zip64 extra field", ErrFormat)
				}
				needDisk = false
				e.disk = field.uint32()
			}

		case extTimeExtraID:
			if len(field) < 5 {
				continue
			}
			if flags := field.uint8(); flags&1 != 0 {
				modified = time.Unix(int64(int32(field.uint32())), 0).UTC() // signed seconds since 1970
			}

		case unicodePathExtraID:
			if len(field) < 5 || field.uint8() != 1 {
				continue
			}
			if field.uint32() == crc32.ChecksumIEEE(rawName) {
				unicodeName = string(field)
			}
		}
	}

	if needUSize || needCSize || needOffset || needDisk {
		return nil, fmt.Errorf("%w: missing zip64 extra field", ErrFormat)
	}

	switch {
	case e.Flags&flagUTF8 != 0:
		e.Name = string(rawName)
		e.Comment = string(rawComment)
	case unicodeName != "":
		e.Name = unicodeName
		e.Comment = decodeString(rawComment, charset)
	default:
		e.Name = decodeString(rawName, charset)
		e.Comment = decodeString(rawComment, charset)
	}

	if modified.IsZero() {
		modified = msDosTimeToTime(dosDate, dosTime)
	}
	e.Modified = modified

	return e, nil
}

// msDosTimeToTime converts an MS-DOS date and time into a [time.Time].
// The DOS fields carry no zone, they are interpreted as UTC.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0,
		time.UTC,
	)
}
