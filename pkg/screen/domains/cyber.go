package domains

import (
	"regexp"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

var (
	cvePattern = regexp.MustCompile(`\bCVE-\d{4}-\d{4,7}\b`)

	// shellcodeBlob matches long runs of escaped hex bytes, the usual shape
	// of an embedded payload rather than a discussion of one.
	shellcodeBlob = regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){64,}`)
)

// Cyber screens security records: advisory text is welcome, raw embedded
// payloads are not. CVE identifiers found in passing records are recorded
// as routing metadata.
type Cyber struct{}

// Name implements screen.Domain.
func (Cyber) Name() string { return "cyber" }

// FilterRecord implements screen.Domain.
func (Cyber) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	if shellcodeBlob.MatchString(dec.Text) {
		dec.Allow = false
		dec.Reason = "embedded_payload"
		return dec
	}
	if cves := cvePattern.FindAllString(dec.Text, -1); len(cves) > 0 {
		dec.Extra = map[string]any{"cve_ids": dedupStrings(cves)}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (Cyber) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
