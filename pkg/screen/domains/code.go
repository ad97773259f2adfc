package domains

import (
	"regexp"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

var (
	spdxHeaderPattern = regexp.MustCompile(`SPDX-License-Identifier:\s*([A-Za-z0-9 .+()-]+)`)

	// secretPatterns flag credentials embedded in source records. Any hit
	// pitches the record: republished secrets are a liability even when
	// long revoked.
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
		regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
		regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{10,}`),
		regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`),
	}
)

// Code screens source-code records: per-file SPDX headers override the
// target license, and embedded secrets pitch the record.
type Code struct{}

// Name implements screen.Domain.
func (Code) Name() string { return "code" }

// FilterRecord implements screen.Domain.
func (Code) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	for _, pattern := range secretPatterns {
		if loc := pattern.FindStringIndex(dec.Text); loc != nil {
			dec.Allow = false
			dec.Reason = "secret_detected"
			dec.SampleExtra = map[string]any{"pattern": pattern.String()}
			return dec
		}
	}
	if m := spdxHeaderPattern.FindStringSubmatch(dec.Text); m != nil {
		dec.LicenseSPDX = strings.TrimSpace(m[1])
		dec.Extra = map[string]any{"spdx_header": dec.LicenseSPDX}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (Code) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}
