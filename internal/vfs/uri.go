package vfs

import (
	"fmt"
	"strings"
)

// layeredSchemes address file systems stored inside a file of another
// file system, as in "zip:file:///data/a.zip!/dir/file.txt".
var layeredSchemes = map[string]bool{
	"zip": true,
	"jar": true,
}

// IsLayered reports whether scheme addresses a layered file system.
func IsLayered(scheme string) bool {
	return layeredSchemes[strings.ToLower(scheme)]
}

// URI addresses a file within a file system. Layered URIs consist of the
// scheme, the URI of the containing file and the path within, separated by
// the last "!". Other URIs are hierarchical ("file:///a", "https://host/a").
type URI struct {
	Scheme    string
	Outer     string // canonical URI of the containing file, layered only
	Authority string // host and port, hierarchical only
	Path      string // absolute and cleaned, "/" for the root
}

// ParseURI parses and canonicalizes a URI.
func ParseURI(raw string) (*URI, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || !validScheme(scheme) {
		return nil, fmt.Errorf("%w: %q: missing scheme", ErrInvalidURI, raw)
	}
	u := &URI{Scheme: strings.ToLower(scheme)}

	if IsLayered(u.Scheme) {
		outer, inner := rest, "/"
		if i := strings.LastIndex(rest, "!"); i >= 0 {
			outer, inner = rest[:i], rest[i+1:]
		}

		ou, err := ParseURI(outer)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: bad container: %w", ErrInvalidURI, raw, err)
		}
		if ou.Path == "/" && !ou.Layered() {
			return nil, fmt.Errorf("%w: %q: container is a root", ErrInvalidURI, raw)
		}

		p, err := DecodeName(inner)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidURI, raw, err)
		}

		u.Outer = ou.String()
		u.Path = CleanPath(p)

		return u, nil
	}

	if auth, ok := strings.CutPrefix(rest, "//"); ok {
		a, p, _ := strings.Cut(auth, "/")
		u.Authority = a
		rest = "/" + p
	}

	p, err := DecodeName(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidURI, raw, err)
	}
	u.Path = CleanPath(p)

	if u.Scheme == "file" {
		if u.Authority != "" && !strings.EqualFold(u.Authority, "localhost") {
			return nil, fmt.Errorf("%w: %q: remote file hosts are not supported", ErrInvalidURI, raw)
		}
		u.Authority = ""
	}

	return u, nil
}

// Layered reports whether the URI addresses a file within another file.
func (u *URI) Layered() bool {
	return u.Outer != ""
}

// OuterURI returns the parsed URI of the containing file.
func (u *URI) OuterURI() (*URI, error) {
	return ParseURI(u.Outer)
}

// WithPath returns a copy of the URI addressing p in the same file system.
func (u *URI) WithPath(p string) *URI {
	c := *u
	c.Path = CleanPath(p)

	return &c
}

// ContainerKey identifies the file system the URI addresses.
func (u *URI) ContainerKey() string {
	if u.Layered() {
		return u.Scheme + ":" + u.Outer
	}

	return u.Scheme + "://" + u.Authority
}

func (u *URI) String() string {
	if u.Layered() {
		return u.Scheme + ":" + u.Outer + "!" + EncodePath(u.Path)
	}

	return u.Scheme + "://" + u.Authority + EncodePath(u.Path)
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}

	return true
}
