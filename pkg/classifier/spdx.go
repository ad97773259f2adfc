package classifier

import (
	"strings"

	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/normalize"
)

// SPDXUnknown is the fallback identifier when no rule resolves a license.
const SPDXUnknown = "UNKNOWN"

// hint values that do not settle the license by themselves.
var inconcreteHints = map[string]bool{
	"":            true,
	"UNKNOWN":     true,
	"MIXED":       true,
	"NOASSERTION": true,
}

// Resolution is the outcome of SPDX resolution for one target.
type Resolution struct {
	SPDX       string  `json:"spdx"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"` // hint | rule:<spdx> | no_rule_hit
	Phrase     string  `json:"phrase,omitempty"`
}

// ResolveSPDX determines the license identifier for a target.
//
// A concrete spdx_hint wins outright at confidence 1.0. Otherwise the
// license map's normalization rules are scanned in declared order against
// the whitespace-collapsed, case-folded evidence text; the first rule with
// a matching phrase wins. Confidence is a deterministic monotone function
// of phrase length: an exact match of a phrase of 20 or more characters
// scores 1.0; shorter phrases score 0.6 + 0.02 per character, capped at
// 0.9. No match resolves to UNKNOWN at confidence 0.
func ResolveSPDX(hint, evidenceText string, rules []catalog.NormalizationRule) Resolution {
	if !inconcreteHints[strings.ToUpper(strings.TrimSpace(hint))] {
		return Resolution{SPDX: hint, Confidence: 1.0, Source: "hint"}
	}
	haystack := strings.ToLower(normalize.CollapseWhitespace(evidenceText))
	if haystack != "" {
		for _, rule := range rules {
			for _, phrase := range rule.MatchAny {
				needle := strings.ToLower(normalize.CollapseWhitespace(phrase))
				if needle == "" || !strings.Contains(haystack, needle) {
					continue
				}
				return Resolution{
					SPDX:       rule.SPDX,
					Confidence: phraseConfidence(len(needle)),
					Source:     "rule:" + rule.SPDX,
					Phrase:     phrase,
				}
			}
		}
	}
	return Resolution{SPDX: SPDXUnknown, Confidence: 0, Source: "no_rule_hit"}
}

func phraseConfidence(n int) float64 {
	if n >= 20 {
		return 1.0
	}
	c := 0.6 + 0.02*float64(n)
	if c > 0.9 {
		c = 0.9
	}
	return c
}
