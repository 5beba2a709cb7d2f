package ingest

import (
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// newLossyDecoder drops invalid UTF-8 bytes instead of failing.
// Not safe for concurrent use.
func newLossyDecoder() transform.Transformer {
	return runes.Remove(runes.Predicate(func(r rune) bool { return r == utf8.RuneError }))
}

func decodeLossy(t transform.Transformer, b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, _, err := transform.String(t, string(b))
	if err != nil {
		return ""
	}
	return s
}
