package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/zipfs"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02 15:04:05"

func lsCmd(opts *programOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <uri> [path]",
		Short: "list the children of a folder",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newRuntime(opts, logOutput(opts, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer env.Close()

			fsys, f, err := env.resolve(cmd.Context(), args)
			if err != nil {
				return err
			}

			return list(cmd.OutOrStdout(), fsys, f)
		},
	}
}

func list(out io.Writer, fsys vfs.FileSystem, f vfs.File) error {
	if !f.Type().HasChildren() {
		return printEntry(out, f, f.Name())
	}

	u, err := vfs.ParseURI(f.URI())
	if err != nil {
		return err //nolint:wrapcheck
	}

	names, err := f.Children()
	if err != nil {
		return err //nolint:wrapcheck
	}

	for _, name := range names {
		child, err := fsys.Resolve(vfs.JoinPath(u.Path, name))
		if err != nil {
			return err //nolint:wrapcheck
		}

		if err := printEntry(out, child, name); err != nil {
			return err
		}
	}

	return nil
}

func printEntry(out io.Writer, f vfs.File, name string) error {
	mtime, err := f.LastModified()
	if err != nil {
		return err //nolint:wrapcheck
	}

	if f.Type().HasChildren() {
		_, err = fmt.Fprintf(out, "d %10s  %s  %s/\n", "-", mtime.Format(timeFormat), name)

		return err //nolint:wrapcheck
	}

	size, err := f.Size()
	if err != nil {
		return err //nolint:wrapcheck
	}

	_, err = fmt.Fprintf(out, "- %10s  %s  %s\n", humanize.IBytes(uint64(max(0, size))), mtime.Format(timeFormat), name)

	return err //nolint:wrapcheck
}

func catCmd(opts *programOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <uri> [path]",
		Short: "write the content of a file to standard output",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newRuntime(opts, logOutput(opts, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer env.Close()

			_, f, err := env.resolve(cmd.Context(), args)
			if err != nil {
				return err
			}

			rc, err := f.Open()
			if err != nil {
				return err //nolint:wrapcheck
			}
			defer rc.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil {
				return fmt.Errorf("failed to read %q: %w", f.URI(), err)
			}

			return nil
		},
	}
}

func statCmd(opts *programOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <uri> [path]",
		Short: "print the metadata, attributes and certificates of a file",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newRuntime(opts, logOutput(opts, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer env.Close()

			fsys, f, err := env.resolve(cmd.Context(), args)
			if err != nil {
				return err
			}

			return stat(cmd.OutOrStdout(), fsys, f)
		},
	}
}

//nolint:errcheck
func stat(out io.Writer, fsys vfs.FileSystem, f vfs.File) error {
	mtime, err := f.LastModified()
	if err != nil {
		return err //nolint:wrapcheck
	}

	fmt.Fprintf(out, "URI:          %s\n", f.URI())
	fmt.Fprintf(out, "Type:         %s\n", f.Type())

	if f.Type().HasContent() {
		size, err := f.Size()
		if err != nil {
			return err //nolint:wrapcheck
		}
		fmt.Fprintf(out, "Size:         %s (%d bytes)\n", humanize.IBytes(uint64(max(0, size))), size)
	}

	fmt.Fprintf(out, "Modified:     %s\n", mtime.Format(timeFormat))
	fmt.Fprintf(out, "Writable:     %t\n", f.IsWritable())

	caps := make([]string, 0, len(fsys.Capabilities()))
	for _, c := range fsys.Capabilities().List() {
		caps = append(caps, string(c))
	}
	fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(caps, ", "))

	if n, ok := f.(*zipfs.Node); ok && n.Entry() != nil {
		e := n.Entry()
		fmt.Fprintf(out, "Method:       %s\n", methodName(e.Method))
		fmt.Fprintf(out, "Compressed:   %s (%d bytes)\n", humanize.IBytes(e.CompressedSize), e.CompressedSize)
		fmt.Fprintf(out, "CRC32:        %08x\n", e.CRC32)
	}

	attrs, err := f.Attributes()
	if err != nil {
		return err //nolint:wrapcheck
	}
	if len(attrs) > 0 {
		fmt.Fprintln(out, "Attributes:")
		for _, k := range slices.Sorted(maps.Keys(attrs)) {
			fmt.Fprintf(out, "  %s: %s\n", k, attrs[k])
		}
	}

	certs, err := f.Certificates()
	if err != nil {
		return err //nolint:wrapcheck
	}
	if len(certs) > 0 {
		fmt.Fprintln(out, "Certificates:")
		for _, c := range certs {
			fmt.Fprintf(out, "  %s (serial %s, until %s)\n", c.Subject.String(), c.SerialNumber, c.NotAfter.Format(timeFormat))
		}
	}

	return nil
}

func methodName(method uint16) string {
	switch method {
	case archive.Store:
		return "store"
	case archive.Deflate:
		return "deflate"
	case archive.BZIP2:
		return "bzip2"
	case archive.Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown (%d)", method)
	}
}

func treeCmd(opts *programOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <uri> [path]",
		Short: "print the hierarchy below a folder",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newRuntime(opts, logOutput(opts, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer env.Close()

			fsys, f, err := env.resolve(cmd.Context(), args)
			if err != nil {
				return err
			}

			u, err := vfs.ParseURI(f.URI())
			if err != nil {
				return err //nolint:wrapcheck
			}

			out := cmd.OutOrStdout()
			base := vfs.Depth(u.Path)

			if zfs, ok := zipfs.Unwrap(fsys); ok {
				return zfs.Walk(cmd.Context(), u.Path, func(path string, n *zipfs.Node) error { //nolint:wrapcheck
					return printTreeLine(out, vfs.Depth(path)-base, n)
				})
			}

			return walkTree(cmd, fsys, u.Path, base)
		},
	}
}

// walkTree walks file systems which offer no walk of their own.
func walkTree(cmd *cobra.Command, fsys vfs.FileSystem, path string, base int) error {
	if err := cmd.Context().Err(); err != nil {
		return err //nolint:wrapcheck
	}

	f, err := fsys.Resolve(path)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if err := printTreeLine(cmd.OutOrStdout(), vfs.Depth(path)-base, f); err != nil {
		return err
	}

	if !f.Type().HasChildren() {
		return nil
	}

	names, err := f.Children()
	if err != nil {
		return err //nolint:wrapcheck
	}

	for _, name := range names {
		if err := walkTree(cmd, fsys, vfs.JoinPath(path, name), base); err != nil {
			return err
		}
	}

	return nil
}

func printTreeLine(out io.Writer, depth int, f vfs.File) error {
	name := f.Name()
	if depth == 0 {
		name = f.URI()
	}

	if f.Type().HasChildren() {
		if !strings.HasSuffix(name, "/") {
			name += "/"
		}
	} else if size, err := f.Size(); err == nil {
		name += " (" + humanize.IBytes(uint64(max(0, size))) + ")"
	}

	_, err := fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth), name)

	return err //nolint:wrapcheck
}
