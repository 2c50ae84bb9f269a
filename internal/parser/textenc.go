package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decode wraps r so that it yields UTF-8 text.
//
// The default ("", "utf-8") honors a byte-order mark: a UTF-8 BOM is removed
// and a UTF-16 BOM switches decoding to UTF-16. Invalid UTF-8 sequences become
// U+FFFD instead of failing the read.
func Decode(r io.Reader, name string) (io.Reader, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return bomOverride{fallback: unicode.UTF8}, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15, nil
	case "utf-16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	default:
		return nil, fmt.Errorf("%w: text encoding %q", ErrUnsupportedFormat, name)
	}
}

// bomOverride selects the decoder from a leading BOM, falling back to UTF-8.
type bomOverride struct {
	fallback encoding.Encoding
}

func (b bomOverride) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: unicode.BOMOverride(b.fallback.NewDecoder())}
}

func (b bomOverride) NewEncoder() *encoding.Encoder {
	return b.fallback.NewEncoder()
}
