package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curatorlabs/datacollector/pkg/catalog"
)

var spdxRules = []catalog.NormalizationRule{
	{MatchAny: []string{"Creative Commons Attribution 4.0"}, SPDX: "CC-BY-4.0"},
	{MatchAny: []string{"MIT License", "mit"}, SPDX: "MIT"},
	{MatchAny: []string{"GNU General Public License version 3"}, SPDX: "GPL-3.0-only"},
}

func TestResolveSPDX_ConcreteHintWins(t *testing.T) {
	res := ResolveSPDX("Apache-2.0", "this text says MIT License everywhere", spdxRules)
	assert.Equal(t, "Apache-2.0", res.SPDX)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "hint", res.Source)
}

func TestResolveSPDX_InconcreteHintsFallThrough(t *testing.T) {
	for _, hint := range []string{"", "UNKNOWN", "unknown", "MIXED", "NOASSERTION", "  "} {
		res := ResolveSPDX(hint, "licensed under the MIT License", spdxRules)
		assert.Equal(t, "MIT", res.SPDX, "hint %q", hint)
		assert.Equal(t, "rule:MIT", res.Source)
	}
}

func TestResolveSPDX_FirstRuleInOrderWins(t *testing.T) {
	text := "Creative Commons Attribution 4.0, previously MIT License"
	res := ResolveSPDX("", text, spdxRules)
	assert.Equal(t, "CC-BY-4.0", res.SPDX)
	assert.Equal(t, "Creative Commons Attribution 4.0", res.Phrase)
}

func TestResolveSPDX_MatchIsWhitespaceAndCaseInsensitive(t *testing.T) {
	text := "GNU  general\n\tPublic License\nVERSION 3"
	res := ResolveSPDX("", text, spdxRules)
	assert.Equal(t, "GPL-3.0-only", res.SPDX)
	assert.Equal(t, 1.0, res.Confidence, "long phrase scores full confidence")
}

func TestResolveSPDX_NoMatch(t *testing.T) {
	res := ResolveSPDX("", "all rights reserved", spdxRules)
	assert.Equal(t, SPDXUnknown, res.SPDX)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, "no_rule_hit", res.Source)

	res = ResolveSPDX("", "", spdxRules)
	assert.Equal(t, SPDXUnknown, res.SPDX)
}

func TestPhraseConfidence(t *testing.T) {
	assert.Equal(t, 1.0, phraseConfidence(20))
	assert.Equal(t, 1.0, phraseConfidence(50))
	assert.InDelta(t, 0.66, phraseConfidence(3), 1e-9)
	assert.InDelta(t, 0.8, phraseConfidence(10), 1e-9)
	assert.InDelta(t, 0.9, phraseConfidence(19), 1e-9, "capped below the long-phrase score")
}

func TestResolveSPDX_ShortPhraseConfidence(t *testing.T) {
	res := ResolveSPDX("", "released as mit software", spdxRules)
	assert.Equal(t, "MIT", res.SPDX)
	assert.InDelta(t, 0.66, res.Confidence, 1e-9)
	assert.Equal(t, "mit", res.Phrase)
}
