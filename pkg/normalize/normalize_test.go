package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"runs collapse", "a  b\t\nc", "a b c"},
		{"ends trimmed", "  hello  ", "hello"},
		{"nfkc folding", "«license» ﬁle", "«license» file"},
		{"empty", "   \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CollapseWhitespace(tt.in))
		})
	}
}

func TestContentSHA256_WhitespaceInsensitive(t *testing.T) {
	a := ContentSHA256("MIT  License\ngrants\tpermission")
	b := ContentSHA256("MIT License grants permission")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ContentSHA256("MIT License grants permission."))
}

func TestEvidenceText_StripsVolatileFragments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"iso timestamp", "updated 2024-01-02T03:04:05Z end", "updated end"},
		{"iso date", "revised 2024-01-02 by legal", "revised by legal"},
		{"long date", "Effective January 2, 2024 onward", "Effective onward"},
		{"slash date", "as of 01/02/2024 terms apply", "as of terms apply"},
		{"clock time", "generated at 3:04 PM daily", "generated at daily"},
		{"url query", "see https://example.org/terms?session=abc123 for details",
			"see https://example.org/terms for details"},
		{"url path kept", "see https://example.org/terms/v2 here",
			"see https://example.org/terms/v2 here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvidenceText(tt.in))
		})
	}
}

// A page differing only in its rendered timestamp must hash to the same
// evidence form, while a changed license body must not.
func TestEvidenceSHA256_CosmeticStability(t *testing.T) {
	v1 := "Licensed under CC BY 4.0.\nLast updated 2024-01-02T10:00:00Z"
	v2 := "Licensed under CC BY 4.0.\nLast updated 2025-06-30T18:30:00Z"
	v3 := "Licensed under CC BY-NC 4.0.\nLast updated 2025-06-30T18:30:00Z"
	assert.Equal(t, EvidenceSHA256(v1), EvidenceSHA256(v2))
	assert.NotEqual(t, EvidenceSHA256(v1), EvidenceSHA256(v3))
}

func TestContainsAny(t *testing.T) {
	text := "Use is restricted to NON-COMMERCIAL   research purposes."
	hits := ContainsAny(text, []string{"non-commercial research", "no derivatives"})
	assert.Equal(t, []string{"non-commercial research"}, hits)

	assert.Empty(t, ContainsAny(text, []string{"", "share-alike"}))
}
