package domains

import (
	"strings"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

// harmfulInstructionMarkers pitch records that read as operational harm
// instructions rather than discussion of them.
var harmfulInstructionMarkers = []string{
	"step-by-step instructions for synthesizing",
	"how to build an improvised explosive",
	"bypass the safety interlock",
	"untraceable firearm",
	"evade law enforcement detection",
}

// Safety screens alignment and safety-research corpora. Such datasets
// legitimately discuss harm, so matching is narrower than in other domains
// and keys on operational phrasing.
type Safety struct{}

// Name implements screen.Domain.
func (Safety) Name() string { return "safety" }

// FilterRecord implements screen.Domain.
func (Safety) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	lower := strings.ToLower(dec.Text)
	for _, marker := range harmfulInstructionMarkers {
		if strings.Contains(lower, marker) {
			dec.Allow = false
			dec.Reason = "operational_harm_content"
			dec.SampleExtra = map[string]any{"marker": marker}
			return dec
		}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (Safety) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}
