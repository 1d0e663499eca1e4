// Package validate implements mechanical verification of generated evidence:
// every claimed excerpt must appear verbatim, modulo normalization, inside
// the answer-only text of the source it is attributed to. It is pure text
// processing with no I/O, so it is safe to run inside any pipeline attempt.
package validate

import (
	"strings"
	"unicode"
)

// Markers that delimit prompt and answer spans inside a source record's raw
// text. Matching is case-insensitive.
const (
	promptMarker = "prompt:"
	answerMarker = "answer:"
)

// NormalizeOptions control how text is canonicalized before comparison.
// Excerpt and source text must always be normalized with identical options.
type NormalizeOptions struct {
	CaseSensitive       bool
	PreservePunctuation bool
}

// Normalize canonicalizes text for containment checks: lowercases (unless
// case-sensitive), strips punctuation (unless preserved), collapses
// whitespace runs to single spaces and trims. Idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string, opts NormalizeOptions) string {
	if !opts.CaseSensitive {
		s = strings.ToLower(s)
	}
	if !opts.PreservePunctuation {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
				b.WriteRune(r)
			} else {
				// Punctuation becomes a space so "no-logs" still splits
				// into the words the source contains.
				b.WriteRune(' ')
			}
		}
		s = b.String()
	}
	return strings.Join(strings.Fields(s), " ")
}

// AnswerOnly extracts the respondent's own words from raw interleaved text:
// the spans following an "answer:" marker and preceding the next marker,
// concatenated with single spaces. Total: malformed input (no markers, text
// before the first marker, nothing after a marker) yields "" or whatever
// answer spans do exist, never an error.
func AnswerOnly(raw string) string {
	if raw == "" {
		return ""
	}

	lower := strings.ToLower(raw)
	var spans []string
	pos := 0
	for {
		idx := indexFrom(lower, answerMarker, pos)
		if idx < 0 {
			break
		}
		start := idx + len(answerMarker)
		end := len(raw)
		if next := nextMarker(lower, start); next >= 0 {
			end = next
		}
		span := strings.TrimSpace(raw[start:end])
		if span != "" {
			spans = append(spans, span)
		}
		pos = start
	}
	return strings.Join(spans, " ")
}

// nextMarker returns the position of the next prompt or answer marker at or
// after from, or -1.
func nextMarker(lower string, from int) int {
	p := indexFrom(lower, promptMarker, from)
	a := indexFrom(lower, answerMarker, from)
	switch {
	case p < 0:
		return a
	case a < 0:
		return p
	case a < p:
		return a
	default:
		return p
	}
}

func indexFrom(s, sub string, from int) int {
	if from >= len(s) {
		return -1
	}
	idx := strings.Index(s[from:], sub)
	if idx < 0 {
		return -1
	}
	return from + idx
}
