/*
zipvfs is a read-only virtual file system for ZIP and JAR archives. Archives
are addressed by URIs, which may point into other archives ("zip:zip:...")
or to files on a web server, so that consumers need not know or care about
where an archive is stored. Every archive is opened and indexed once, after
which its hierarchy is served from memory and its files are extracted on the
fly. Split archives (.z01, .z02, ... .zip) on the local disk are supported.

The following commands are provided:
  - "ls" lists the children of a folder
  - "cat" writes the content of a file to standard output (stdout)
  - "stat" prints the metadata, attributes and certificates of a file
  - "tree" prints the hierarchy below a folder
  - "mount" serves a folder as a read-only FUSE filesystem

When mounted, the following signals are observed and handled:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)

When enabled, the diagnostics server exposes the following routes over HTTP:
  - "/" for filesystem dashboard and event ring-buffer
  - "/metrics.json" for all metrics in JSON format
  - "/gc" for forcing of a garbage collection (within Go)
  - "/reset" for resetting the filesystem metrics at runtime
  - "/set/must-crc32/<bool>" for adapting forced integrity checking
  - "/set/stream-threshold/<string>" for adapting of the streaming threshold
*/
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultRingBufferSize = 500
)

// Version is the program version (filled in from the Makefile).
var Version string

type programOpts struct {
	charset        string
	cacheTTL       time.Duration
	mustCRC32      bool
	zipManifest    bool
	ringBufferSize int
	verbose        bool
}

func rootCmd() *cobra.Command {
	opts := &programOpts{}

	cmd := &cobra.Command{
		Use:          helpTextUse,
		Short:        helpTextShort,
		Long:         helpTextLong,
		Version:      Version,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.charset, "charset", "c", "", "IANA charset of entry names stored without the UTF-8 flag (default: UTF-8, else CP437)")
	flags.DurationVar(&opts.cacheTTL, "cache-ttl", 0, "Idle time after which an unused archive is closed (0 keeps archives open)")
	flags.BoolVar(&opts.mustCRC32, "must-crc32", true, "Verify the integrity (CRC32) also of uncompressed entries")
	flags.BoolVar(&opts.zipManifest, "zip-manifest", false, "Read manifests and signatures also for the zip: scheme")
	flags.IntVar(&opts.ringBufferSize, "ring-buffer-size", defaultRingBufferSize, "Amount of event lines kept in memory (for the dashboard)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print events to standard error (stderr)")

	cmd.AddCommand(
		lsCmd(opts),
		catCmd(opts),
		statCmd(opts),
		treeCmd(opts),
		mountCmd(opts),
	)

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
