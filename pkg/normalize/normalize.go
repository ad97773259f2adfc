// Package normalize provides the canonical text forms used for content
// addressing and evidence change detection.
//
// Two normal forms exist:
//   - Collapsed form: unicode-folded text with all whitespace runs collapsed
//     to a single space. ContentSHA256 is computed over this form, so two
//     records differing only in whitespace hash identically.
//   - Evidence form: collapsed form with volatile page fragments removed
//     (timestamps, dates, URL query strings). Snapshot diffing uses this form
//     to separate cosmetic churn from real license text changes.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CollapseWhitespace folds the text to NFKC and collapses every whitespace
// run (spaces, tabs, newlines) into a single space, trimming the ends.
func CollapseWhitespace(text string) string {
	folded := norm.NFKC.String(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(folded, " "))
}

// ContentSHA256 returns the hex SHA-256 of the whitespace-collapsed text.
func ContentSHA256(text string) string {
	sum := sha256.Sum256([]byte(CollapseWhitespace(text)))
	return hex.EncodeToString(sum[:])
}

// SHA256Hex returns the hex SHA-256 of raw bytes, untransformed.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// volatileRules is the closed, ordered list of rewrites applied by
// EvidenceText. Order matters: timestamps are removed before bare dates so a
// full ISO timestamp is never half-stripped, and query strings are removed
// last so date-bearing URLs are handled by the URL rule alone.
var volatileRules = []struct {
	name string
	re   *regexp.Regexp
	repl string
}{
	// ISO 8601 timestamps: 2024-01-02T03:04:05Z, 2024-01-02 03:04:05+00:00
	{"iso_timestamp", regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), ""},
	// Bare ISO dates: 2024-01-02
	{"iso_date", regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), ""},
	// Long-form dates: January 2, 2024 / Jan 2 2024
	{"long_date", regexp.MustCompile(`(?i)(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.? \d{1,2},? \d{4}`), ""},
	// Slash dates: 01/02/2024, 1/2/24
	{"slash_date", regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), ""},
	// Clock times: 03:04, 03:04:05, 3:04 PM
	{"clock_time", regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?(?: ?[APap][Mm])?\b`), ""},
	// URL query strings: keep the path, drop ?session=... style volatility.
	{"url_query", regexp.MustCompile(`(https?://[^\s?"'<>]+)\?[^\s"'<>]*`), "$1"},
}

// EvidenceText returns the evidence normal form of a license page: volatile
// fragments removed per the closed rule list above, then whitespace-collapsed.
// The rule list is intentionally fixed so two runs over the same page always
// agree on whether it changed.
func EvidenceText(text string) string {
	out := text
	for _, rule := range volatileRules {
		out = rule.re.ReplaceAllString(out, rule.repl)
	}
	return CollapseWhitespace(out)
}

// EvidenceSHA256 returns the hex SHA-256 of the evidence normal form.
func EvidenceSHA256(text string) string {
	sum := sha256.Sum256([]byte(EvidenceText(text)))
	return hex.EncodeToString(sum[:])
}

// ContainsAny reports the subset of phrases occurring in the collapsed,
// lower-cased text. Used for restriction phrase scans and normalization rules.
func ContainsAny(text string, phrases []string) []string {
	haystack := strings.ToLower(CollapseWhitespace(text))
	var hits []string
	for _, p := range phrases {
		needle := strings.ToLower(CollapseWhitespace(p))
		if needle != "" && strings.Contains(haystack, needle) {
			hits = append(hits, p)
		}
	}
	return hits
}
