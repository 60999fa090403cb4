package zipfs

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/desertwitch/zipvfs/internal/archive"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/manifest"
)

// maxMetaSize bounds manifests, signature files and signature blocks.
const maxMetaSize = 16 * 1024 * 1024

// jarMeta holds the manifest and the signers of a JAR container.
// A nil *jarMeta is valid and describes a container without either.
type jarMeta struct {
	manifest *manifest.Manifest
	signers  map[string][]*x509.Certificate
}

// readJarMeta reads the manifest and collects the certificates of each
// signature block for the entries its signature file lists. Signatures
// are not verified. An unreadable manifest fails the container, while
// unreadable signatures are only logged.
func readJarMeta(r *archive.Reader, rbuf *logging.RingBuffer) (*jarMeta, error) {
	meta := &jarMeta{signers: make(map[string][]*x509.Certificate)}

	var mf *archive.Entry
	sigFiles := make(map[string]*archive.Entry)
	sigBlocks := make(map[string]*archive.Entry)

	for _, e := range r.Entries() {
		switch {
		case strings.EqualFold(e.Name, manifest.Name):
			if mf == nil {
				mf = e
			}
		case manifest.IsSignatureFile(e.Name):
			sigFiles[manifest.SignatureBase(e.Name)] = e
		case manifest.IsSignatureBlock(e.Name):
			sigBlocks[manifest.SignatureBase(e.Name)] = e
		}
	}

	if mf != nil {
		data, err := readMeta(r, mf)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}

		m, err := manifest.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		meta.manifest = m
	}

	for _, base := range slices.Sorted(maps.Keys(sigFiles)) {
		certs, names, err := readSignature(r, sigFiles[base], sigBlocks[base])
		if err != nil {
			rbuf.Printf("Warning: %q: ignoring signature %q: %v\n", r.Path(), sigFiles[base].Name, err)

			continue
		}

		for _, name := range names {
			meta.signers[name] = append(meta.signers[name], certs...)
		}
	}

	return meta, nil
}

// readSignature returns the certificates of a signature block along
// with the entry names its signature file lists.
func readSignature(r *archive.Reader, sf *archive.Entry, block *archive.Entry) ([]*x509.Certificate, []string, error) {
	if block == nil {
		return nil, nil, fmt.Errorf("%w: no signature block", manifest.ErrInvalid)
	}

	sfData, err := readMeta(r, sf)
	if err != nil {
		return nil, nil, err
	}

	sfm, err := manifest.Parse(bytes.NewReader(sfData))
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	blockData, err := readMeta(r, block)
	if err != nil {
		return nil, nil, err
	}

	certs, err := manifest.ParseSignatureBlock(blockData)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	return certs, slices.Sorted(maps.Keys(sfm.Entries)), nil
}

func readMeta(r *archive.Reader, e *archive.Entry) ([]byte, error) {
	if e.UncompressedSize > maxMetaSize {
		return nil, fmt.Errorf("%w: %q", errManifestSize, e.Name)
	}

	rc, err := r.Open(e)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return data, nil
}

// attributes returns the main attributes overlaid with the section of e.
func (m *jarMeta) attributes(e *archive.Entry) map[string]string {
	if m == nil || m.manifest == nil {
		return map[string]string{}
	}

	name := ""
	if e != nil {
		name = e.Name
	}

	return m.manifest.EntryAttributes(name)
}

// attribute returns a main attribute, its name compared case-insensitively.
func (m *jarMeta) attribute(name string) (string, bool) {
	if m == nil || m.manifest == nil {
		return "", false
	}

	return m.manifest.Attribute(name)
}

// certificates returns the certificates of all signers of an entry.
func (m *jarMeta) certificates(name string) []*x509.Certificate {
	if m == nil {
		return nil
	}

	return m.signers[name]
}
