package domains

import (
	"regexp"
	"strconv"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

var casPattern = regexp.MustCompile(`\b(\d{2,7})-(\d{2})-(\d)\b`)

// Chem screens chemistry records. Records that cite CAS registry numbers
// must cite well-formed ones: a failed CAS check digit usually means OCR
// noise or fabricated identifiers.
type Chem struct{}

// Name implements screen.Domain.
func (Chem) Name() string { return "chem" }

// FilterRecord implements screen.Domain.
func (Chem) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	dec := baseFilter(raw)
	if !dec.Allow {
		return dec
	}
	var valid, invalid []string
	for _, m := range casPattern.FindAllStringSubmatch(dec.Text, -1) {
		cas := m[0]
		if validCAS(m[1], m[2], m[3]) {
			valid = append(valid, cas)
		} else {
			invalid = append(invalid, cas)
		}
	}
	if len(invalid) > 0 {
		dec.Allow = false
		dec.Reason = "invalid_cas_number"
		dec.SampleExtra = map[string]any{"invalid_cas": invalid}
		return dec
	}
	if len(valid) > 0 {
		dec.Extra = map[string]any{"cas_numbers": valid}
	}
	return dec
}

// TransformRecord implements screen.Domain.
func (Chem) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}

// validCAS verifies the CAS registry check digit: the weighted sum of all
// digits modulo 10.
func validCAS(part1, part2, check string) bool {
	digits := part1 + part2
	sum := 0
	weight := len(digits)
	for _, r := range digits {
		sum += weight * int(r-'0')
		weight--
	}
	want, err := strconv.Atoi(check)
	if err != nil {
		return false
	}
	return sum%10 == want
}
