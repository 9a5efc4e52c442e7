// Package transcript reconciles the text fragments a streaming recognizer
// reports into one growing transcript.
package transcript

import (
	"strings"
	"unicode/utf8"
)

// Segment is one recognition fragment reported by the server.
type Segment struct {
	Text     string
	Definite bool
}

// Merge folds incoming into current. An extended re-send replaces current, a
// re-sent prefix is ignored, and anything else is appended after removing the
// longest suffix of current that is also a prefix of incoming.
func Merge(current, incoming string) string {
	if incoming == "" {
		return current
	}

	incoming = strings.TrimSpace(incoming)
	if current == "" {
		return incoming
	}

	if incoming == current {
		return current
	}

	if strings.HasPrefix(incoming, current) {
		return incoming
	}

	if strings.HasPrefix(current, incoming) {
		return current
	}

	return strings.TrimSpace(current + incoming[overlap(current, incoming):])
}

// overlap returns the byte length of the longest prefix of incoming that is a
// suffix of current. Only rune boundaries of incoming are considered.
func overlap(current, incoming string) int {
	size := len(current)
	if len(incoming) < size {
		size = len(incoming)
	}

	for ; size > 0; size-- {
		if size < len(incoming) && !utf8.RuneStart(incoming[size]) {
			continue
		}
		if strings.HasSuffix(current, incoming[:size]) {
			return size
		}
	}
	return 0
}

// Stitcher accumulates definite segments for a single session. It is not safe
// for concurrent use; a session's receive loop owns it.
type Stitcher struct {
	text    string
	interim string
}

// NewStitcher creates an empty stitcher
func NewStitcher() *Stitcher {
	return &Stitcher{}
}

// Add merges a definite segment into the transcript and reports whether the
// transcript changed. Interim segments only update Interim.
func (s *Stitcher) Add(seg Segment) bool {
	if seg.Text == "" {
		return false
	}

	if !seg.Definite {
		s.interim = strings.TrimSpace(seg.Text)
		return false
	}

	s.interim = ""
	merged := Merge(s.text, seg.Text)
	if merged == s.text {
		return false
	}
	s.text = merged
	return true
}

// Text returns the committed transcript
func (s *Stitcher) Text() string {
	return s.text
}

// Interim returns the latest interim fragment, empty once it was committed
func (s *Stitcher) Interim() string {
	return s.interim
}
