// Package probe inspects leading bytes of an input file to decide how it must
// be read: container format and, for delimited text, the field separator.
package probe

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
)

// SampleSize is how many leading bytes callers should hand to the sniffers.
const SampleSize = 64 << 10

// Format is the container format inferred from a byte sample.
type Format int

const (
	FormatUnknown Format = iota
	FormatDelimited
	FormatMarkup // HTML/XML; spreadsheet exports from web reports land here
	FormatJSON
	FormatZip // OOXML workbooks (.xlsx, .xlsm)
	FormatOLE // legacy BIFF workbooks (.xls)
)

func (f Format) String() string {
	switch f {
	case FormatDelimited:
		return "delimited"
	case FormatMarkup:
		return "markup"
	case FormatJSON:
		return "json"
	case FormatZip:
		return "zip"
	case FormatOLE:
		return "ole"
	default:
		return "unknown"
	}
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// SniffFormat infers the container format from a byte sample.
// Detection is heuristic and conservative.
func SniffFormat(sample []byte) Format {
	if bytes.HasPrefix(sample, zipMagic) {
		return FormatZip
	}
	if bytes.HasPrefix(sample, oleMagic) {
		return FormatOLE
	}
	trim := bytes.TrimSpace(bytes.TrimPrefix(sample, utf8BOM))
	if len(trim) == 0 {
		return FormatUnknown
	}
	switch trim[0] {
	case '<':
		return FormatMarkup
	case '{', '[':
		return FormatJSON
	}
	return FormatDelimited
}

// SniffFile reads up to SampleSize bytes from path and returns its format.
func SniffFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	return SniffFormat(buf[:n]), nil
}

// Candidates are the separators SniffDelimiter considers, in tie-break order.
var Candidates = []rune{',', ';', '\t', '|'}

// SniffDelimiter picks the separator that splits the sample into the most
// consistent multi-column records. It returns ',' when nothing scores.
//
// Each candidate parses the sample leniently; rows whose field count differs
// from the first record are ignored, and the score is the number of agreeing
// rows times the column count.
func SniffDelimiter(sample []byte) rune {
	sample = bytes.TrimPrefix(sample, utf8BOM)
	if i := bytes.LastIndexByte(sample, '\n'); i > 0 && len(sample) >= SampleSize {
		sample = sample[:i+1] // drop the partial trailing line
	}

	best, bestScore := ',', 0
	for _, c := range Candidates {
		if s := scoreDelimiter(sample, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func scoreDelimiter(sample []byte, delim rune) int {
	const maxRows = 50

	r := csv.NewReader(bytes.NewReader(sample))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	head, err := r.Read()
	if err != nil || len(head) < 2 {
		return 0
	}
	width := len(head)

	agree := 1
	for i := 0; i < maxRows; i++ {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			continue
		}
		if len(rec) == width {
			agree++
		}
	}
	return agree * width
}
