package containers

import (
	"bytes"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Marker ties a phrase in a tool's output to the broken flag it implies.
type Marker struct {
	Phrase string
	Flag   string
}

// Markers scans tool output for known failure phrases, case-insensitively.
type Markers struct {
	matcher *ahocorasick.Matcher
	markers []Marker
}

// NewMarkers builds a scanner. Earlier markers win when several match.
func NewMarkers(markers ...Marker) *Markers {
	m := &Markers{markers: markers}
	if len(markers) == 0 {
		return m
	}
	phrases := make([]string, len(markers))
	for i, mk := range markers {
		phrases[i] = strings.ToLower(mk.Phrase)
	}
	m.matcher = ahocorasick.NewStringMatcher(phrases)
	return m
}

// Match returns the flag of the first marker found in output.
func (m *Markers) Match(output []byte) (string, bool) {
	if m == nil || m.matcher == nil {
		return "", false
	}
	hits := m.matcher.MatchThreadSafe(bytes.ToLower(output))
	if len(hits) == 0 {
		return "", false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h < best {
			best = h
		}
	}
	return m.markers[best].Flag, true
}
