package zipfs

import (
	"fmt"
	"strings"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

// buildIndex builds the node hierarchy of the entries. Every ancestor
// of an entry exists as a folder, synthesized where the archive has no
// entry for it. The first entry for a path wins. A file entry clashing
// with a folder, or an entry name escaping the root, fails the index.
func buildIndex(fsys *FileSystem, entries []*archive.Entry) (map[string]*Node, error) {
	root := newNode(fsys, "/", nil)
	nodes := map[string]*Node{"/": root}

	for _, e := range entries {
		p, err := entryPath(e.Name)
		if err != nil {
			return nil, err
		}

		if node, ok := nodes[p]; ok {
			switch {
			case p != "/" && e.IsDir() != (node.typ == vfs.TypeFolder):
				return nil, fmt.Errorf("%w: %q is both a file and a folder", errPathConflict, e.Name)
			case node.entry != nil || p == "/":
				if !e.IsDir() {
					fsys.rbuf.Printf("Warning: %q: duplicate entry %q ignored.\n", fsys.source, e.Name)
				}
			default:
				node.attach(e)
			}

			continue
		}

		node := newNode(fsys, p, e)
		nodes[p] = node

		for child := node; ; {
			pp, ok := vfs.ParentPath(child.path)
			if !ok {
				break
			}

			parent, exists := nodes[pp]
			if !exists {
				parent = newNode(fsys, pp, nil)
				nodes[pp] = parent
			} else if parent.typ != vfs.TypeFolder {
				return nil, fmt.Errorf("%w: file %q is also a folder", errPathConflict, parent.entry.Name)
			}
			parent.children[vfs.BaseName(child.path)] = struct{}{}

			if exists {
				break
			}
			child = parent
		}
	}

	return nodes, nil
}

// entryPath returns the absolute node path of an entry name. Leading and
// repeated slashes are tolerated, names climbing above the root are not.
func entryPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", errMalformedName, name)
	}

	depth := 0
	for seg := range strings.SplitSeq(name, "/") {
		switch seg {
		case "", ".":
		case "..":
			if depth == 0 {
				return "", fmt.Errorf("%w: %q escapes the root", errMalformedName, name)
			}
			depth--
		default:
			depth++
		}
	}

	return vfs.CleanPath(name), nil
}
