package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// splitSignature is written at the start of the first volume of a split archive.
const splitSignature = 0x08074b50

// maxVolumes is the largest volume count a split archive can address.
const maxVolumes = 1 << 16

// VolumePath returns the path of the n-th (1-based) volume preceding the
// last volume of a split archive. For "data.zip" the first volume is
// "data.z01", the second "data.z02" and so on.
func VolumePath(lastPath string, n int) string {
	ext := filepath.Ext(lastPath)

	return strings.TrimSuffix(lastPath, ext) + fmt.Sprintf(".z%02d", n)
}

// volume is one physical file of an archive.
type volume struct {
	path  string
	file  *os.File
	start int64 // logical offset of the first byte
	size  int64
}

func openVolume(path string) (*volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("failed to stat: %w", err)
	}
	if fi.IsDir() {
		f.Close()

		return nil, fmt.Errorf("%w: %q is a directory", ErrFormat, path)
	}

	return &volume{path: path, file: f, size: fi.Size()}, nil
}

// checkSplitMarker verifies that v starts with the split archive marker.
func checkSplitMarker(v *volume) error {
	var b [4]byte
	if _, err := v.file.ReadAt(b[:], 0); err != nil {
		return fmt.Errorf("%w: %q is too short for a split volume", ErrFormat, v.path)
	}
	if binary.LittleEndian.Uint32(b[:]) != splitSignature {
		return fmt.Errorf("%w: %q does not start a split archive", ErrFormat, v.path)
	}

	return nil
}

// volumeSet presents the ordered volumes of an archive as one logical
// byte stream. It is safe for concurrent use, positioned reads do not
// share any file offset. Reads after Close fail with [ErrClosed].
type volumeSet struct {
	mu     sync.RWMutex
	vols   []*volume
	size   int64
	closed bool
}

var _ io.ReaderAt = (*volumeSet)(nil)

func newVolumeSet(vols []*volume) *volumeSet {
	set := &volumeSet{vols: vols}
	for _, v := range vols {
		v.start = set.size
		set.size += v.size
	}

	return set
}

// Size returns the length of the logical stream.
func (s *volumeSet) Size() int64 {
	return s.size
}

// Paths returns the volume paths in their logical order.
func (s *volumeSet) Paths() []string {
	paths := make([]string, len(s.vols))
	for i, v := range s.vols {
		paths[i] = v.path
	}

	return paths
}

// offset translates a disk-relative offset into a logical one.
func (s *volumeSet) offset(disk uint32, rel uint64) (int64, error) {
	if int(disk) >= len(s.vols) {
		return 0, fmt.Errorf("%w: disk %d out of range (%d volumes)", ErrFormat, disk, len(s.vols))
	}

	v := s.vols[disk]
	if rel > uint64(v.size) { //nolint:gosec
		return 0, fmt.Errorf("%w: offset %d beyond end of volume %q", ErrFormat, rel, v.path)
	}

	return v.start + int64(rel), nil //nolint:gosec
}

// locate returns the volume holding the logical position pos.
func (s *volumeSet) locate(pos int64) *volume {
	i := sort.Search(len(s.vols), func(i int) bool {
		return s.vols[i].start+s.vols[i].size > pos
	})

	return s.vols[i]
}

// ReadAt reads from the logical stream, crossing volume boundaries as needed.
func (s *volumeSet) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errNegativeOffset
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= s.size {
			return n, io.EOF
		}

		v := s.locate(pos)
		rel := pos - v.start
		want := min(int64(len(p)-n), v.size-rel)

		m, err := v.file.ReadAt(p[n:n+int(want)], rel)
		n += m

		if err != nil {
			if errors.Is(err, io.EOF) && int64(m) == want {
				continue
			}
			if errors.Is(err, io.EOF) {
				return n, fmt.Errorf("volume %q was truncated: %w", v.path, io.ErrUnexpectedEOF)
			}

			return n, fmt.Errorf("failed to read volume %q: %w", v.path, err)
		}
	}

	return n, nil
}

// Close closes all volumes, it is safe to call more than once.
func (s *volumeSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, v := range s.vols {
		if err := v.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close volume %q: %w", v.path, err))
		}
	}

	return errors.Join(errs...)
}

func closeVolumes(vols []*volume) {
	for _, v := range vols {
		v.file.Close()
	}
}
