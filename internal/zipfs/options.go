// Package zipfs implements the read-only file system of a ZIP (or JAR)
// archive. The archive is indexed once into a hierarchy of nodes,
// which keeps answering metadata queries after the archive is closed.
package zipfs

import (
	"sync/atomic"
)

const (
	defaultImaginaryCacheSize = 256
	defaultMustCRC32          = true
	defaultZipManifest        = false
)

// Options contains all settings for the operation of the file system.
// All non-atomic fields can no longer be modified once a file system is created.
type Options struct {
	// Charset is the IANA name of the charset for entry names stored
	// without the UTF-8 flag. Empty keeps valid UTF-8 names as they are
	// and reads all others as IBM Code Page 437.
	Charset string

	// ImaginaryCacheSize bounds the cache of nodes for non-existent paths.
	ImaginaryCacheSize int

	// ZipManifest controls if the manifest and signatures are also read
	// for the "zip" scheme, they are always read for the "jar" scheme.
	ZipManifest bool

	// MustCRC32 controls if stored (uncompressed) entries must still run
	// through the integrity verification (CRC32). Without it, they are
	// read directly from the archive and also seek natively.
	MustCRC32 atomic.Bool
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{
		ImaginaryCacheSize: defaultImaginaryCacheSize,
		ZipManifest:        defaultZipManifest,
	}
	opts.MustCRC32.Store(defaultMustCRC32)

	return opts
}

// Metrics contains all metrics which are collected within the file systems.
// A single [Metrics] is usually shared by all file systems of a provider.
type Metrics struct {
	// OpenContainers is the amount of currently open containers.
	OpenContainers atomic.Int64

	// TotalOpenedContainers is the amount of opened containers.
	TotalOpenedContainers atomic.Int64

	// TotalClosedContainers is the amount of closed containers.
	TotalClosedContainers atomic.Int64

	// TotalIndexTime is time spent reading and indexing central directories.
	TotalIndexTime atomic.Int64

	// TotalIndexedEntries is the amount of indexed entries.
	TotalIndexedEntries atomic.Int64

	// TotalExtractTime is time spent extracting data from containers.
	TotalExtractTime atomic.Int64

	// TotalExtractCount is the amount of extractions from containers.
	TotalExtractCount atomic.Int64

	// TotalExtractBytes is the amount of bytes extracted from containers.
	TotalExtractBytes atomic.Int64

	// TotalStreamRewinds is the amount of reopened entries (rewinds).
	TotalStreamRewinds atomic.Int64

	// TotalImaginaryHits is the amount of cache-hits for imaginary nodes.
	TotalImaginaryHits atomic.Int64

	// TotalImaginaryMisses is the amount of cache-misses for imaginary nodes.
	TotalImaginaryMisses atomic.Int64

	// Errors is the amount of failed operations.
	Errors atomic.Int64
}
