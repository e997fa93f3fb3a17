// Package extract turns document bytes into text and metadata.
//
// Extractors never fail on "nothing found": they return empty results.
// Errors are reserved for I/O and service failures.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// WordCount counts runs of letters, digits and underscores.
func WordCount(text string) int {
	return len(wordRe.FindAllStringIndex(text, -1))
}

// DecodeText decodes plain text of unknown encoding: UTF-8 when valid,
// otherwise a sniffed guess, otherwise Latin-1.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if enc, _, _ := charset.DetermineEncoding(data, "text/plain"); enc != nil {
		if s, err := enc.NewDecoder().Bytes(data); err == nil {
			return string(s)
		}
	}
	return latin1(data)
}

// DecodeCharset decodes data from the named charset. Unknown or empty
// labels fall back to Latin-1; undecodable bytes become U+FFFD.
func DecodeCharset(data []byte, label string) string {
	enc := lookup(label)
	if enc == nil {
		return latin1(data)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return latin1(data)
	}
	if !utf8.Valid(out) {
		return strings.ToValidUTF8(string(out), "�")
	}
	return string(out)
}

// KnownCharset reports whether label names an encoding we can decode.
func KnownCharset(label string) bool {
	return lookup(label) != nil
}

func lookup(label string) encoding.Encoding {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return nil
	}
	enc, _ := charset.Lookup(label)
	return enc
}

func latin1(data []byte) string {
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(out)
}
