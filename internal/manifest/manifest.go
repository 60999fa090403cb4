// Package manifest parses JAR manifests, signature files and the
// PKCS#7 signature blocks which carry the signer certificates.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Name is the path of the manifest within a JAR.
const Name = "META-INF/MANIFEST.MF"

// maxLineLength bounds a single physical manifest line.
const maxLineLength = 64 * 1024

// ErrInvalid is returned for manifests which do not follow the format.
var ErrInvalid = errors.New("invalid manifest")

// Attributes maps header names to their values.
type Attributes map[string]string

// Get returns the value of a header, its name compared case-insensitively.
func (a Attributes) Get(name string) (string, bool) {
	if v, ok := a[name]; ok {
		return v, true
	}
	for k, v := range a {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}

	return "", false
}

// Manifest is a parsed manifest or signature file.
type Manifest struct {
	// Main holds the attributes of the main section.
	Main Attributes

	// Entries holds the attributes of each named section, by its "Name".
	Entries map[string]Attributes
}

// Parse reads a manifest. Sections are separated by blank lines, the
// first is the main section and every further one starts with a "Name"
// header. Lines starting with a single space continue the previous value.
// Repeated sections for the same name are merged.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{
		Main:    Attributes{},
		Entries: make(map[string]Attributes),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineLength)
	sc.Split(scanLines)

	var (
		section Attributes // nil between sections
		lastKey string
		inMain  = true
		lineNo  = 0
	)

	flush := func() error {
		if inMain {
			inMain = false

			return nil
		}
		if section == nil {
			return nil
		}

		name, ok := section["Name"]
		if !ok {
			return fmt.Errorf("%w: section without name (line %d)", ErrInvalid, lineNo)
		}
		delete(section, "Name")

		if prev, ok := m.Entries[name]; ok {
			for k, v := range section {
				prev[k] = v
			}
		} else {
			m.Entries[name] = section
		}

		return nil
	}

	for sc.Scan() {
		lineNo++
		line := sc.Text()

		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			section, lastKey = nil, ""

			continue
		}

		if line[0] == ' ' {
			if section == nil || lastKey == "" {
				return nil, fmt.Errorf("%w: continuation without header (line %d)", ErrInvalid, lineNo)
			}
			section[lastKey] += line[1:]

			continue
		}

		key, value, err := parseHeader(line)
		if err != nil {
			return nil, fmt.Errorf("%w (line %d)", err, lineNo)
		}

		if section == nil {
			if inMain {
				section = m.Main
			} else {
				section = Attributes{}
			}
		}
		section[key] = value
		lastKey = key
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return m, nil
}

// Attribute returns a main attribute, its name compared case-insensitively.
func (m *Manifest) Attribute(name string) (string, bool) {
	return m.Main.Get(name)
}

// EntryAttributes returns the main attributes overlaid with those of the
// section for the named entry, the latter taking precedence.
func (m *Manifest) EntryAttributes(name string) Attributes {
	attrs := make(Attributes, len(m.Main))
	for k, v := range m.Main {
		attrs[k] = v
	}
	for k, v := range m.Entries[name] {
		attrs[k] = v
	}

	return attrs
}

func parseHeader(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, ":")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: malformed header %q", ErrInvalid, line)
	}

	for _, c := range key {
		if !isHeaderChar(c) {
			return "", "", fmt.Errorf("%w: illegal header name %q", ErrInvalid, key)
		}
	}

	switch {
	case value == "":
	case value[0] == ' ':
		value = value[1:]
	default:
		return "", "", fmt.Errorf("%w: missing space after %q", ErrInvalid, key+":")
	}

	return key, value, nil
}

func isHeaderChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

// scanLines splits on CRLF, LF or a lone CR.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i, c := range data {
		switch c {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}

				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}

			return 0, nil, nil // need more data to tell CR from CRLF
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
