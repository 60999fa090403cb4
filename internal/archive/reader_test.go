package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertwitch/zipvfs/internal/ziptest"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"
)

func readEntry(t *testing.T, r *Reader, e *Entry) []byte {
	t.Helper()

	rc, err := r.Open(e)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	return data
}

func entryByName(t *testing.T, r *Reader, name string) *Entry {
	t.Helper()

	for _, e := range r.Entries() {
		if e.Name == name {
			return e
		}
	}
	require.Failf(t, "entry not found", "%q", name)

	return nil
}

// Expectation: VolumePath should replace the final extension with the volume suffix.
func Test_VolumePath_Success(t *testing.T) {
	require.Equal(t, "/data/A.z01", VolumePath("/data/A.zip", 1))
	require.Equal(t, "/data/A.z12", VolumePath("/data/A.zip", 12))
	require.Equal(t, "/data/A.b.z03", VolumePath("/data/A.b.zip", 3))
	require.Equal(t, "/data/A.z100", VolumePath("/data/A.zip", 100))
}

// Expectation: A conventionally written archive should be fully readable.
func Test_Open_Standard_Success(t *testing.T) {
	tmpDir := t.TempDir()
	tnow := time.Now()

	path := ziptest.WriteStandard(t, filepath.Join(tmpDir, "test.zip"), []ziptest.File{
		{Name: "dir/", Modified: tnow},
		{Name: "dir/a.txt", Modified: tnow, Content: []byte("stored"), Method: ziptest.Store},
		{Name: "dir/b.txt", Modified: tnow, Content: bytes.Repeat([]byte("deflated "), 500), Method: ziptest.Deflate},
		{Name: "c.txt", Modified: tnow, Content: bytes.Repeat([]byte("zstd "), 500), Method: ziptest.Zstd},
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Entries(), 4)
	require.Equal(t, []string{path}, r.Volumes())
	require.False(t, r.Zip64())

	dir := entryByName(t, r, "dir/")
	require.True(t, dir.IsDir())

	a := entryByName(t, r, "dir/a.txt")
	require.False(t, a.IsDir())
	require.Equal(t, []byte("stored"), readEntry(t, r, a))
	require.True(t, a.Modified.Equal(tnow.Truncate(time.Second)))

	b := entryByName(t, r, "dir/b.txt")
	require.Equal(t, Deflate, b.Method)
	require.Equal(t, bytes.Repeat([]byte("deflated "), 500), readEntry(t, r, b))

	c := entryByName(t, r, "c.txt")
	require.Equal(t, Zstd, c.Method)
	require.Equal(t, bytes.Repeat([]byte("zstd "), 500), readEntry(t, r, c))
}

// Expectation: Extended timestamps before 1970 should be read as signed seconds.
func Test_Open_ExtendedTimestamp_Success(t *testing.T) {
	tmpDir := t.TempDir()
	old := time.Date(1960, time.March, 2, 10, 30, 0, 0, time.UTC)

	path := ziptest.WriteStandard(t, filepath.Join(tmpDir, "old.zip"), []ziptest.File{
		{Name: "old.txt", Modified: old, Content: []byte("old"), Method: ziptest.Store},
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	e := entryByName(t, r, "old.txt")
	require.True(t, e.Modified.Equal(old), "got %v", e.Modified)
	require.Equal(t, 1960, e.Modified.Year())
}

// Expectation: Entries of a split archive should be read across the volume boundary.
func Test_Open_Split_Success(t *testing.T) {
	tmpDir := t.TempDir()
	tnow := time.Now()

	content := bytes.Repeat([]byte("0123456789"), 150)
	path := ziptest.Write(t, filepath.Join(tmpDir, "A.zip"), []ziptest.File{
		{Name: "lib/Foo.txt", Modified: tnow, Content: content},
	}, ziptest.Options{VolumeSize: 1000})

	require.FileExists(t, filepath.Join(tmpDir, "A.z01"))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, []string{filepath.Join(tmpDir, "A.z01"), path}, r.Volumes())
	require.Len(t, r.Entries(), 1)

	e := r.Entries()[0]
	require.Equal(t, "lib/Foo.txt", e.Name)
	require.Equal(t, uint64(1500), e.UncompressedSize)
	require.Equal(t, uint32(0), e.Disk())
	require.Equal(t, content, readEntry(t, r, e))
}

// Expectation: Many small volumes with compressed entries should still read correctly.
func Test_Open_SplitManyVolumes_Success(t *testing.T) {
	tmpDir := t.TempDir()
	tnow := time.Now()

	files := []ziptest.File{
		{Name: "a/", Modified: tnow},
		{Name: "a/one.txt", Modified: tnow, Content: bytes.Repeat([]byte("one "), 300), Method: ziptest.Deflate},
		{Name: "a/two.txt", Modified: tnow, Content: bytes.Repeat([]byte("two "), 300), Method: ziptest.Store},
		{Name: "three.txt", Modified: tnow, Content: []byte("three"), Method: ziptest.Deflate},
	}
	path := ziptest.Write(t, filepath.Join(tmpDir, "many.zip"), files, ziptest.Options{VolumeSize: 64})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Greater(t, len(r.Volumes()), 10)

	for _, f := range files {
		e := entryByName(t, r, f.Name)
		if f.Content == nil {
			require.True(t, e.IsDir())

			continue
		}
		require.Equal(t, f.Content, readEntry(t, r, e))
	}
}

// Expectation: A missing preceding volume should fail with a VolumeMissingError.
func Test_Open_SplitMissingVolume_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "A.zip"), []ziptest.File{
		{Name: "lib/Foo.txt", Content: bytes.Repeat([]byte("x"), 1500)},
	}, ziptest.Options{VolumeSize: 1000})
	require.NoError(t, os.Remove(filepath.Join(tmpDir, "A.z01")))

	r, err := Open(path)
	require.Nil(t, r)

	var missing *VolumeMissingError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, filepath.Join(tmpDir, "A.z01"), missing.Volume)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

// Expectation: A first volume without the split marker should fail to open.
func Test_Open_SplitMarker_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "A.zip"), []ziptest.File{
		{Name: "lib/Foo.txt", Content: bytes.Repeat([]byte("x"), 1500)},
	}, ziptest.Options{VolumeSize: 1000})

	first := filepath.Join(tmpDir, "A.z01")
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, uint32(splitSignature), binary.LittleEndian.Uint32(data))

	copy(data, []byte{0, 0, 0, 0})
	require.NoError(t, os.WriteFile(first, data, 0o644))

	r, err := Open(path)
	require.Nil(t, r)
	require.ErrorIs(t, err, ErrFormat)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, path, openErr.Archive)
}

// Expectation: Forced zip64 records should be resolved through the extra field.
func Test_Open_Zip64_Success(t *testing.T) {
	tmpDir := t.TempDir()

	content := bytes.Repeat([]byte("z64"), 1000)
	path := ziptest.Write(t, filepath.Join(tmpDir, "z64.zip"), []ziptest.File{
		{Name: "big.bin", Content: content, Method: ziptest.Deflate},
		{Name: "small.txt", Content: []byte("small")},
	}, ziptest.Options{Zip64: true})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Zip64())

	big := entryByName(t, r, "big.bin")
	require.True(t, big.Zip64)
	require.Equal(t, uint64(len(content)), big.UncompressedSize)
	require.Equal(t, content, readEntry(t, r, big))

	small := entryByName(t, r, "small.txt")
	require.Equal(t, []byte("small"), readEntry(t, r, small))
}

// Expectation: Split and zip64 layouts should combine.
func Test_Open_SplitZip64_Success(t *testing.T) {
	tmpDir := t.TempDir()

	content := bytes.Repeat([]byte("split64 "), 400)
	path := ziptest.Write(t, filepath.Join(tmpDir, "s64.zip"), []ziptest.File{
		{Name: "a.bin", Content: content, Method: ziptest.Store},
		{Name: "b.bin", Content: content, Method: ziptest.Deflate},
	}, ziptest.Options{VolumeSize: 512, Zip64: true})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Zip64())
	require.Greater(t, len(r.Volumes()), 2)
	require.Equal(t, content, readEntry(t, r, entryByName(t, r, "a.bin")))
	require.Equal(t, content, readEntry(t, r, entryByName(t, r, "b.bin")))
}

// Expectation: Data prepended to a single-volume archive should be skipped.
func Test_Open_PrependedData_Success(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "sfx.zip"), []ziptest.File{
		{Name: "payload.txt", Content: []byte("payload")},
	}, ziptest.Options{Prefix: []byte("#!/bin/sh\nexit 0\n")})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, []byte("payload"), readEntry(t, r, entryByName(t, r, "payload.txt")))
}

// Expectation: The archive comment should be returned.
func Test_Reader_Comment_Success(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "c.zip"), []ziptest.File{
		{Name: "a.txt", Content: []byte("a")},
	}, ziptest.Options{Comment: "hello world"})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, "hello world", r.Comment())
}

// Expectation: A file which is not an archive should fail with an OpenError.
func Test_Open_NotArchive_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := filepath.Join(tmpDir, "invalid.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip file, but long enough to be searched"), 0o644))

	r, err := Open(path)
	require.Nil(t, r)

	var oerr *OpenError
	require.ErrorAs(t, err, &oerr)
	require.ErrorIs(t, err, ErrFormat)
}

// Expectation: A non-existent archive should fail with an OpenError.
func Test_Open_NotExist_Error(t *testing.T) {
	r, err := Open("/nonexistent/path.zip")
	require.Nil(t, r)

	var oerr *OpenError
	require.ErrorAs(t, err, &oerr)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

// Expectation: A mismatch between the declared and found record count should fail.
func Test_Open_RecordCountMismatch_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "count.zip"), []ziptest.File{
		{Name: "a.txt", Content: []byte("a")},
		{Name: "b.txt", Content: []byte("b")},
	}, ziptest.Options{})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	end := len(data) - directoryEndLen
	binary.LittleEndian.PutUint16(data[end+8:], 3)
	binary.LittleEndian.PutUint16(data[end+10:], 3)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := Open(path)
	require.Nil(t, r)

	var oerr *OpenError
	require.ErrorAs(t, err, &oerr)
	require.ErrorIs(t, err, ErrFormat)
}

// Expectation: A truncated central directory should fail with an OpenError.
func Test_Open_TruncatedDirectory_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "trunc.zip"), []ziptest.File{
		{Name: "a.txt", Content: []byte("a")},
	}, ziptest.Options{})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	end := len(data) - directoryEndLen
	binary.LittleEndian.PutUint32(data[end+12:], uint32(end+100))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)

	var oerr *OpenError
	require.ErrorAs(t, err, &oerr)
}

// Expectation: A checksum mismatch should surface as an EntryReadError at EOF,
// unless verification was disabled.
func Test_Reader_Open_ChecksumMismatch_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "crc.zip"), []ziptest.File{
		{Name: "bad.txt", Content: []byte("corrupted"), CRC32: 0xdeadbeef},
		{Name: "good.txt", Content: []byte("intact")},
	}, ziptest.Options{})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	rc, err := r.Open(entryByName(t, r, "bad.txt"))
	require.NoError(t, err)

	_, err = io.ReadAll(rc)
	require.NoError(t, rc.Close())

	var rerr *EntryReadError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "bad.txt", rerr.Entry)
	require.ErrorIs(t, err, ErrChecksum)

	require.Equal(t, []byte("intact"), readEntry(t, r, entryByName(t, r, "good.txt")))

	r2, err := Open(path, WithCRC32(false))
	require.NoError(t, err)
	defer r2.Close()

	require.Equal(t, []byte("corrupted"), readEntry(t, r2, entryByName(t, r2, "bad.txt")))
}

// Expectation: Unsupported methods and encrypted entries should fail with an EntryReadError.
func Test_Reader_Open_Unsupported_Error(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "method.zip"), []ziptest.File{
		{Name: "odd.bin", Content: []byte("odd"), Method: 99},
	}, ziptest.Options{})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	e := entryByName(t, r, "odd.bin")
	_, err = r.Open(e)
	require.ErrorIs(t, err, ErrAlgorithm)

	encrypted := *e
	encrypted.Method = Store
	encrypted.Flags |= flagEncrypted
	_, err = r.Open(&encrypted)
	require.ErrorIs(t, err, ErrEncrypted)
}

// Expectation: Names without the UTF-8 flag should be decoded by the charset.
func Test_Open_Charset_Success(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "cs.zip"), []ziptest.File{
		{Name: "x", RawName: []byte{'r', 0xe9, 's', 'u', 'm', 0xe9}, Content: []byte("cv")},
		{Name: "plain.txt", RawName: []byte("plain.txt"), Content: []byte("p")},
	}, ziptest.Options{})

	r, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "rΘsumΘ", r.Entries()[0].Name)
	require.Equal(t, "plain.txt", r.Entries()[1].Name)
	require.NoError(t, r.Close())

	r, err = Open(path, WithCharset(charmap.ISO8859_1))
	require.NoError(t, err)
	require.Equal(t, "résumé", r.Entries()[0].Name)
	require.NoError(t, r.Close())
}

// Expectation: LookupCharset should resolve IANA names and reject unknown ones.
func Test_LookupCharset_Success(t *testing.T) {
	enc, err := LookupCharset("")
	require.NoError(t, err)
	require.Nil(t, enc)

	enc, err = LookupCharset("ISO-8859-1")
	require.NoError(t, err)
	require.NotNil(t, enc)

	_, err = LookupCharset("no-such-charset")
	require.Error(t, err)
}

// Expectation: Reads after Close should fail with ErrClosed, Close should be idempotent.
func Test_Reader_Close_Success(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "close.zip"), []ziptest.File{
		{Name: "a.txt", Content: []byte("a")},
	}, ziptest.Options{})

	r, err := Open(path)
	require.NoError(t, err)

	rc, err := r.Open(r.Entries()[0])
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = io.ReadAll(rc)
	require.ErrorIs(t, err, ErrClosed)

	_, err = r.Open(r.Entries()[0])
	require.ErrorIs(t, err, ErrClosed)

	var rerr *EntryReadError
	require.True(t, errors.As(err, &rerr))
}

// Expectation: Entries should be readable concurrently.
func Test_Reader_Open_Concurrent_Success(t *testing.T) {
	tmpDir := t.TempDir()

	var files []ziptest.File
	for i := range 16 {
		files = append(files, ziptest.File{
			Name:    string(rune('a'+i)) + ".txt",
			Content: bytes.Repeat([]byte{byte('a' + i)}, 700),
			Method:  ziptest.Deflate,
		})
	}
	path := ziptest.Write(t, filepath.Join(tmpDir, "conc.zip"), files, ziptest.Options{VolumeSize: 300})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var g errgroup.Group
	for i, e := range r.Entries() {
		g.Go(func() error {
			rc, err := r.Open(e)
			if err != nil {
				return err
			}
			defer rc.Close()

			data, err := io.ReadAll(rc)
			if err != nil {
				return err
			}
			if !bytes.Equal(data, files[i].Content) {
				return errors.New("content mismatch: " + e.Name)
			}

			return nil
		})
	}
	require.NoError(t, g.Wait())
}

// Expectation: OpenRaw should return the stored bytes as a seekable section.
func Test_Reader_OpenRaw_Success(t *testing.T) {
	tmpDir := t.TempDir()

	path := ziptest.Write(t, filepath.Join(tmpDir, "raw.zip"), []ziptest.File{
		{Name: "a.txt", Content: []byte("0123456789")},
	}, ziptest.Options{VolumeSize: 40})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	sr, err := r.OpenRaw(r.Entries()[0])
	require.NoError(t, err)
	require.Equal(t, int64(10), sr.Size())

	buf := make([]byte, 4)
	_, err = sr.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("6789"), buf)
}
