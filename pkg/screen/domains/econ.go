package domains

import (
	"regexp"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

var nonFinitePattern = regexp.MustCompile(`(?i)\b(nan|[-+]?inf(inity)?)\b`)

// Econ screens economic time-series and tabular records. Non-finite
// sentinel values in the body usually mean a broken export upstream.
type Econ struct{}

// Name implements screen.Domain.
func (Econ) Name() string { return "econ" }

// FilterRecord implements screen.Domain.
func (Econ) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	if nonFinitePattern.MatchString(dec.Text) {
		dec.Allow = false
		dec.Reason = "non_finite_value"
		return dec
	}
	if series, ok := raw["series_id"].(string); ok && series != "" {
		dec.Extra = map[string]any{"series_id": strings.TrimSpace(series)}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (Econ) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}
