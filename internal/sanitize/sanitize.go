// Package sanitize maps source header text to stable SQL column identifiers.
//
// Every place that turns a header into a persisted column name (staging
// creation, bulk-load mapping, validation) goes through Columns so the names
// always agree.
package sanitize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// nonWord matches runs of characters outside the word class: letters,
// non-spacing marks, decimal digits and connector punctuation.
var nonWord = regexp.MustCompile(`[^\p{L}\p{Mn}\p{Nd}\p{Pc}]+`)

// Identifier returns the sanitized column name for header at 0-based index.
//
// Runs of non-word characters collapse to a single "_". When the result is
// empty or starts with a digit it is replaced by Column_{index+1}. The mapping
// is idempotent: Identifier(Identifier(h, i), i) == Identifier(h, i).
func Identifier(header string, index int) string {
	s := nonWord.ReplaceAllString(header, "_")
	if s == "" {
		return fallback(index)
	}
	if r, _ := utf8.DecodeRuneInString(s); unicode.IsDigit(r) {
		return fallback(index)
	}
	return s
}

func fallback(index int) string {
	return "Column_" + strconv.Itoa(index+1)
}

// Truncate cuts s to at most maxLen bytes without splitting a UTF-8 sequence.
// maxLen <= 0 disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Columns sanitizes a whole header.
//
// Names are truncated to maxLen bytes (the backend identifier limit) and
// case-insensitive duplicates are disambiguated with _2, _3, ... so two source
// columns never land in the same staging column.
func Columns(header []string, maxLen int) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))

	for i, h := range header {
		name := Truncate(Identifier(h, i), maxLen)
		if taken[strings.ToLower(name)] {
			for n := 2; ; n++ {
				sfx := fmt.Sprintf("_%d", n)
				cand := Truncate(name, maxLen-len(sfx)) + sfx
				if maxLen <= 0 {
					cand = name + sfx
				}
				if !taken[strings.ToLower(cand)] {
					name = cand
					break
				}
			}
		}
		taken[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}
