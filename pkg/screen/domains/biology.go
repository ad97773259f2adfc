package domains

import (
	"strings"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

// biosecuritySensitive flags content touching regulated agents or
// gain-of-function territory. Matching is deliberately broad: a pitched
// record can be restored by review, a shipped one cannot be recalled.
var biosecuritySensitive = []string{
	"select agent",
	"gain of function",
	"gain-of-function",
	"enhanced transmissibility",
	"aerosolization protocol",
	"toxin purification",
	"reverse genetics system",
}

// Biology screens life-science records and rejects biosecurity-sensitive
// content outright.
type Biology struct{}

// Name implements screen.Domain.
func (Biology) Name() string { return "biology" }

// FilterRecord implements screen.Domain.
func (Biology) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	lower := strings.ToLower(dec.Text)
	for _, phrase := range biosecuritySensitive {
		if strings.Contains(lower, phrase) {
			dec.Allow = false
			dec.Reason = "biosecurity_sensitive"
			dec.SampleExtra = map[string]any{"phrase": phrase}
			return dec
		}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (Biology) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}
