package sanitize

import (
	"regexp"
)

const redacted = "[REDACTED]"

// patterns covers the identifier shapes that leak most often through free
// text: emails, US social security numbers, phone numbers and medical
// record numbers. Order matters; longer shapes are matched first so a
// partial pattern never splits a longer one.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b(?:\+?1[\s\-.]?)?\(?\d{3}\)?[\s\-.]\d{3}[\s\-.]\d{4}\b`),
	regexp.MustCompile(`\bMRN[:\s#]*\d{5,}\b`),
}

// Sanitizer redacts personal identifiers from free text before it leaves
// the engine through an alert sink or log line.
type Sanitizer struct{}

// New creates a sanitizer.
func New() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize replaces every recognized identifier with a redaction marker.
func (s *Sanitizer) Sanitize(text string) string {
	for _, p := range patterns {
		text = p.ReplaceAllString(text, redacted)
	}
	return text
}
