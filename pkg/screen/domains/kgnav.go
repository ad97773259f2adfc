package domains

import (
	"fmt"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

// KGNav screens knowledge-graph navigation records: each must carry a full
// subject / predicate / object triple, which also serves as the
// near-duplicate key so paraphrased surface text does not duplicate edges.
type KGNav struct{}

// Name implements screen.Domain.
func (KGNav) Name() string { return "kg_nav" }

// FilterRecord implements screen.Domain.
func (KGNav) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	subject, _ := raw["subject"].(string)
	predicate, _ := raw["predicate"].(string)
	object, _ := raw["object"].(string)
	if subject == "" || predicate == "" || object == "" {
		return screen.FilterDecision{Reason: "incomplete_triple"}
	}
	text := extractText(raw)
	if text == "" {
		text = fmt.Sprintf("%s %s %s", subject, predicate, object)
	}
	return screen.FilterDecision{
		Allow: true,
		Text:  text,
		Extra: map[string]any{
			"triple": map[string]any{
				"subject":   subject,
				"predicate": predicate,
				"object":    object,
			},
		},
	}
}

// TransformRecord implements screen.Domain.
func (KGNav) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}

// DedupeKey implements screen.DedupeKeyer: identical edges are duplicates
// regardless of their surface text.
func (KGNav) DedupeKey(raw map[string]any, dec screen.FilterDecision) string {
	subject, _ := raw["subject"].(string)
	predicate, _ := raw["predicate"].(string)
	object, _ := raw["object"].(string)
	return strings.ToLower(strings.Join([]string{subject, predicate, object}, "|"))
}
