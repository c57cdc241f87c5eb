package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsIdentifiers(t *testing.T) {
	s := New()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "email",
			input: "patient reachable at jane.doe@example.com today",
			want:  "patient reachable at [REDACTED] today",
		},
		{
			name:  "ssn",
			input: "SSN on file 123-45-6789",
			want:  "SSN on file [REDACTED]",
		},
		{
			name:  "phone",
			input: "call (415) 555-0123 before visit",
			want:  "call [REDACTED] before visit",
		},
		{
			name:  "mrn",
			input: "see MRN: 8841234 for history",
			want:  "see [REDACTED] for history",
		},
		{
			name:  "multiple",
			input: "jane@x.org / 123-45-6789",
			want:  "[REDACTED] / [REDACTED]",
		},
		{
			name:  "clean text untouched",
			input: "symptom score trending up over 6h window",
			want:  "symptom score trending up over 6h window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sanitize(tt.input))
		})
	}
}
