package archive

import (
	"compress/bzip2"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Compression methods supported out of the box.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
	BZIP2   uint16 = 12
	Zstd    uint16 = 93
)

// Decompressor returns a reader of the uncompressed content of r.
type Decompressor func(r io.Reader) (io.ReadCloser, error)

var decompressors sync.Map // map[uint16]Decompressor

func init() {
	decompressors.Store(Store, Decompressor(func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}))
	decompressors.Store(Deflate, Decompressor(func(r io.Reader) (io.ReadCloser, error) {
		return flate.NewReader(r), nil
	}))
	decompressors.Store(BZIP2, Decompressor(func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	}))
	decompressors.Store(Zstd, Decompressor(func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}

		return d.IOReadCloser(), nil
	}))
}

// RegisterDecompressor registers or overrides the decompressor of a method.
func RegisterDecompressor(method uint16, dcomp Decompressor) {
	decompressors.Store(method, dcomp)
}

func decompressor(method uint16) Decompressor {
	v, ok := decompressors.Load(method)
	if !ok {
		return nil
	}

	return v.(Decompressor) //nolint:forcetypeassert
}
