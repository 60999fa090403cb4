package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/filesystem"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/webserver"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	stackTraceBuffer = 1 << 24
)

type mountOpts struct {
	uri              string
	mountDir         string
	streamThreshold  uint64
	strictCache      bool
	allowOther       bool
	dashboardAddress string
}

func mountCmd(opts *programOpts) *cobra.Command {
	var argThreshold string
	var argStrictCache bool
	var argAllowOther bool
	var argDashAddress string

	cmd := &cobra.Command{
		Use:   helpTextMountUse,
		Short: helpTextMountShort,
		Long:  helpTextMountLong,
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			numThreshold, err := humanize.ParseBytes(argThreshold)
			if err != nil {
				return fmt.Errorf("failed to parse threshold: %w", err)
			}

			uri, err := toURI(args[0])
			if err != nil {
				return err
			}

			return runMount(cmd.Context(), opts, mountOpts{
				uri:              uri,
				mountDir:         args[1],
				streamThreshold:  numThreshold,
				strictCache:      argStrictCache,
				allowOther:       argAllowOther,
				dashboardAddress: argDashAddress,
			})
		},
	}
	cmd.Flags().StringVarP(&argThreshold, "memsize", "m", "10M", "Size cutoff for loading a file fully into RAM (streaming instead)")
	cmd.Flags().BoolVar(&argStrictCache, "strict-cache", false, "Disable the kernel page and directory caching (serve every read)")
	cmd.Flags().BoolVar(&argAllowOther, "allow-other", false, "Allow other users to access the mounted filesystem")
	cmd.Flags().StringVarP(&argDashAddress, "webaddr", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")

	return cmd
}

// prepareMount resolves the folder to mount and keeps its file system
// mounted for as long as the manager lives.
func prepareMount(ctx context.Context, env *runtimeEnv, mopts mountOpts) (*filesystem.FS, error) {
	u, err := vfs.ParseURI(mopts.uri)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	vfsys, err := env.mgr.FileSystem(ctx, u)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	if err := env.mgr.Pin(u.ContainerKey()); err != nil {
		return nil, err //nolint:wrapcheck
	}

	fopts := filesystem.DefaultOptions()
	fopts.StrictCache = mopts.strictCache
	fopts.StreamingThreshold.Store(mopts.streamThreshold)

	fsys, err := filesystem.NewFS(vfsys, u.Path, fopts, env.rbuf)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem: %w", err)
	}

	return fsys, nil
}

//nolint:funlen
func runMount(ctx context.Context, opts *programOpts, mopts mountOpts) error {
	env, err := newRuntime(opts, os.Stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	fsys, err := prepareMount(ctx, env, mopts)
	if err != nil {
		return err
	}

	var dash *webserver.Dashboard
	if mopts.dashboardAddress != "" {
		dash, err = webserver.NewDashboard(fsys, env.zips, env.mgr, env.rbuf, Version)
		if err != nil {
			return fmt.Errorf("failed to create dashboard: %w", err)
		}
	}

	mountOptions := []fuse.MountOption{fuse.ReadOnly(), fuse.FSName("zipvfs"), fuse.Subtype("zipvfs")}
	if mopts.allowOther {
		mountOptions = append(mountOptions, fuse.AllowOther())
	}

	c, err := fuse.Mount(mopts.mountDir, mountOptions...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(mopts.mountDir) //nolint:errcheck

	env.rbuf.Printf("Mounted %q on %q.\n", mopts.uri, mopts.mountDir)

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Go(func() {
		defer close(errChan)
		if err := fs.Serve(c, fsys); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	})

	if dash != nil {
		srv := dash.Serve(mopts.dashboardAddress)
		defer srv.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			env.rbuf.Println("Signal received, unmounting the filesystem...")

			if err := fuse.Unmount(mopts.mountDir); err != nil {
				env.rbuf.Printf("Unmount error: %v (try again later)\n", err)

				continue
			}

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	go func() {
		for range sig1 {
			env.rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	go func() {
		for range sig2 {
			env.rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()

	wg.Wait()

	return <-errChan
}
