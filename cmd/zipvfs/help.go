package main

const (
	helpTextUse = "zipvfs"

	helpTextShort = "a virtual file system for browsing of ZIP and JAR archives"

	helpTextLong = `zipvfs is a read-only virtual file system for ZIP and JAR archives. Archives
are addressed by URIs and may be nested inside other archives or live on a web
server, every archive is opened and indexed once and then served from memory.
Split archives (.z01, .z02, ... .zip) on the local disk are read as a whole.

Arguments are URIs of the following schemes, or paths on the local disk:
- "file:///path/to/file" for files on the local disk
- "http://host/path" and "https://host/path" for files on a web server
- "zip:<uri>!/path" and "jar:<uri>!/path" for files within archives

Local paths ending with .zip or .jar are opened as the root of the archive.`

	helpTextMountUse = "mount <uri> <mountpoint>"

	helpTextMountShort = "mount an archive folder as a read-only FUSE filesystem"

	helpTextMountLong = `mount serves a folder of the virtual file system as a read-only FUSE
filesystem. Files up to the size of --memsize are read fully into memory (RAM)
on open, larger files are streamed in chunks as requested by the kernel.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for all metrics in JSON format
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the filesystem metrics at runtime
- "/set/must-crc32/<bool>" for adapting forced integrity checking
- "/set/stream-threshold/<string>" for adapting of the streaming threshold`
)
