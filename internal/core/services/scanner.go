package services

import (
	"encoding/json"
	"iter"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// Scanner walks free-form text and yields every JSON object it can decode.
// Text that is not JSON, including stray '{' characters, is skipped.
// A Scanner is single-use: once exhausted it stays exhausted.
type Scanner struct {
	text   string
	cursor int
}

// NewScanner returns a scanner positioned at the start of text.
func NewScanner(text string) *Scanner {
	return &Scanner{text: text}
}

// Next returns the next decodable object, or false when the text is exhausted.
func (s *Scanner) Next() (domain.ExtractedObject, bool) {
	for s.cursor < len(s.text) {
		rel := strings.IndexByte(s.text[s.cursor:], '{')
		if rel < 0 {
			s.cursor = len(s.text)
			return nil, false
		}
		match := s.cursor + rel

		obj, consumed, ok := decodeObjectAt(s.text[match:])
		if ok {
			s.cursor = match + consumed
			return obj, true
		}
		s.cursor = match + 1
	}
	return nil, false
}

// All adapts the scanner to a range-over-func sequence.
func (s *Scanner) All() iter.Seq[domain.ExtractedObject] {
	return func(yield func(domain.ExtractedObject) bool) {
		for {
			obj, ok := s.Next()
			if !ok || !yield(obj) {
				return
			}
		}
	}
}

// ExtractObjects collects every object in text, in order of appearance.
func ExtractObjects(text string) []domain.ExtractedObject {
	var out []domain.ExtractedObject
	for obj := range NewScanner(text).All() {
		out = append(out, obj)
	}
	return out
}

// NormalizeQuotes rewrites single quotes to double quotes so model output
// written in Python-literal style decodes as JSON. Apostrophes inside text
// values are rewritten too, which can break an otherwise valid object.
func NormalizeQuotes(text string) string {
	return strings.ReplaceAll(text, "'", `"`)
}

// decodeObjectAt decodes exactly one JSON value from the start of s and
// reports how many bytes it consumed. Only objects count as a match.
func decodeObjectAt(s string) (domain.ExtractedObject, int, bool) {
	dec := json.NewDecoder(strings.NewReader(s))

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, 0, false
	}
	consumed := int(dec.InputOffset())
	if consumed <= 0 {
		return nil, 0, false
	}
	return obj, consumed, true
}
