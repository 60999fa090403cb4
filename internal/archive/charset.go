package archive

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// LookupCharset returns the encoding registered under the IANA name.
// An empty name returns a nil encoding, which selects the default
// behavior of [decodeString].
func LookupCharset(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil //nolint:nilnil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}

	return enc, nil
}

// decodeString decodes a name or comment stored without the UTF-8 flag.
// Without an explicit charset, valid UTF-8 is kept as is and anything
// else is read as IBM Code Page 437, the historical ZIP default.
func decodeString(raw []byte, charset encoding.Encoding) string {
	if charset == nil {
		if utf8.Valid(raw) {
			return string(raw)
		}
		charset = charmap.CodePage437
	}

	s, err := charset.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}

	return string(s)
}
