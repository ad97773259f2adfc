package domains

import (
	"unicode"

	"github.com/curatorlabs/datacollector/pkg/normalize"
	"github.com/curatorlabs/datacollector/pkg/screen"
)

// minLetterRatio is the floor share of letter runes in natural-language
// text. Below it, the record is markup residue or a binary blob that
// survived extraction.
const minLetterRatio = 0.55

// minRecordTextLen rejects prose fragments too short to carry meaning.
const minRecordTextLen = 16

// NLP screens natural-language corpora for textual substance.
type NLP struct{}

// Name implements screen.Domain.
func (NLP) Name() string { return "nlp" }

// FilterRecord implements screen.Domain.
func (NLP) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	if len(normalize.CollapseWhitespace(dec.Text)) < minRecordTextLen {
		dec.Allow = false
		dec.Reason = "text_too_short"
		return dec
	}
	letters, total := 0, 0
	for _, r := range dec.Text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total > 0 {
		ratio := float64(letters) / float64(total)
		if ratio < minLetterRatio {
			dec.Allow = false
			dec.Reason = "low_letter_ratio"
			dec.SampleExtra = map[string]any{"letter_ratio": ratio}
			return dec
		}
		dec.Extra = map[string]any{"letter_ratio": ratio}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (NLP) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}
