package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorlabs/datacollector/pkg/catalog"
)

func checkTarget() *catalog.Target {
	return &catalog.Target{
		ID:          "acme/corpus",
		Name:        "Acme Corpus",
		Publisher:   "Acme Labs",
		Description: "A demonstration corpus.",
		Enabled:     true,
		LicenseEvidence: catalog.LicenseEvidence{
			URL: "https://acme.example/license",
		},
	}
}

func TestCheckRegistry_Names(t *testing.T) {
	r, err := NewCheckRegistry(map[string]string{"has_publisher": `publisher != ""`})
	require.NoError(t, err)

	names := r.Names()
	assert.True(t, names["metadata_complete"])
	assert.True(t, names["evidence_url_https"])
	assert.True(t, names["license_confident"])
	assert.True(t, names["cel:has_publisher"])

	assert.True(t, r.Known("metadata_complete"))
	assert.True(t, r.Known("cel:has_publisher"))
	assert.False(t, r.Known("cel:missing"))
	assert.False(t, r.Known("bogus"))
}

func TestCheckRegistry_BadCELFailsConstruction(t *testing.T) {
	_, err := NewCheckRegistry(map[string]string{"broken": `publisher ==`})
	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cel_checks.broken", verr.Field)
}

func TestCheckMetadataComplete(t *testing.T) {
	r, err := NewCheckRegistry(nil)
	require.NoError(t, err)

	res := r.Run("metadata_complete", CheckInput{Target: checkTarget()})
	assert.Equal(t, catalog.ActionOK, res.Action)

	bare := checkTarget()
	bare.Publisher = "  "
	bare.Description = ""
	res = r.Run("metadata_complete", CheckInput{Target: bare})
	assert.Equal(t, catalog.ActionWarn, res.Action)
	assert.Equal(t, []string{"publisher", "description"}, res.Detail["missing"])
}

func TestCheckEvidenceURLHTTPS(t *testing.T) {
	r, err := NewCheckRegistry(nil)
	require.NoError(t, err)

	res := r.Run("evidence_url_https", CheckInput{Target: checkTarget()})
	assert.Equal(t, catalog.ActionOK, res.Action)

	plain := checkTarget()
	plain.LicenseEvidence.URL = "http://acme.example/license"
	res = r.Run("evidence_url_https", CheckInput{Target: plain})
	assert.Equal(t, catalog.ActionWarn, res.Action)

	// No declared evidence URL is not a finding.
	none := checkTarget()
	none.LicenseEvidence.URL = ""
	res = r.Run("evidence_url_https", CheckInput{Target: none})
	assert.Equal(t, catalog.ActionOK, res.Action)
}

func TestCheckLicenseConfident(t *testing.T) {
	r, err := NewCheckRegistry(nil)
	require.NoError(t, err)

	res := r.Run("license_confident", CheckInput{
		Target:     checkTarget(),
		Resolution: Resolution{SPDX: "MIT", Confidence: 1.0},
	})
	assert.Equal(t, catalog.ActionOK, res.Action)

	res = r.Run("license_confident", CheckInput{
		Target:     checkTarget(),
		Resolution: Resolution{SPDX: "MIT", Confidence: 0.7},
	})
	assert.Equal(t, catalog.ActionQuarantine, res.Action)

	res = r.Run("license_confident", CheckInput{
		Target:     checkTarget(),
		Resolution: Resolution{SPDX: SPDXUnknown, Confidence: 1.0},
	})
	assert.Equal(t, catalog.ActionQuarantine, res.Action, "unknown SPDX never passes")
}

func TestRun_UnknownCheckWarns(t *testing.T) {
	r, err := NewCheckRegistry(nil)
	require.NoError(t, err)

	res := r.Run("bogus", CheckInput{Target: checkTarget()})
	assert.Equal(t, catalog.ActionWarn, res.Action)
	assert.Equal(t, "bogus", res.Check)

	res = r.Run("cel:bogus", CheckInput{Target: checkTarget()})
	assert.Equal(t, catalog.ActionWarn, res.Action)
	assert.Equal(t, "cel:bogus", res.Check)
}

func TestRunCEL(t *testing.T) {
	r, err := NewCheckRegistry(map[string]string{
		"has_publisher": `publisher != ""`,
		"confidence_action": `resolved_confidence >= 0.9 ? "ok" : "quarantine"`,
		"weird_action":      `"explode"`,
		"not_a_verdict":     `size(name)`,
	})
	require.NoError(t, err)

	in := CheckInput{
		Target:     checkTarget(),
		Resolution: Resolution{SPDX: "MIT", Confidence: 0.95},
	}

	res := r.Run("cel:has_publisher", in)
	assert.Equal(t, catalog.ActionOK, res.Action)

	anon := in
	anon.Target = checkTarget()
	anon.Target.Publisher = ""
	res = r.Run("cel:has_publisher", anon)
	assert.Equal(t, catalog.ActionWarn, res.Action)
	assert.Contains(t, res.Reason, "returned false")

	// String results select an action from the lattice directly.
	res = r.Run("cel:confidence_action", in)
	assert.Equal(t, catalog.ActionOK, res.Action)

	low := in
	low.Resolution.Confidence = 0.4
	res = r.Run("cel:confidence_action", low)
	assert.Equal(t, catalog.ActionQuarantine, res.Action)

	res = r.Run("cel:weird_action", in)
	assert.Equal(t, catalog.ActionWarn, res.Action)
	assert.Contains(t, res.Reason, "unknown action")

	res = r.Run("cel:not_a_verdict", in)
	assert.Equal(t, catalog.ActionWarn, res.Action)
	assert.Contains(t, res.Reason, "want bool or action")
}

func TestMaxAction(t *testing.T) {
	results := []CheckResult{
		{Check: "a", Action: catalog.ActionOK},
		{Check: "b", Action: catalog.ActionWarn},
		{Check: "c", Action: catalog.ActionQuarantine},
	}

	action, source := MaxAction(results, nil)
	assert.Equal(t, catalog.ActionQuarantine, action)
	assert.Equal(t, "c", source)

	// Overrides rewrite the action of a non-ok result.
	action, source = MaxAction(results, map[string]string{"c": catalog.ActionWarn})
	assert.Equal(t, catalog.ActionWarn, action)
	assert.Equal(t, "b", source)

	action, source = MaxAction(results, map[string]string{"b": catalog.ActionBlock})
	assert.Equal(t, catalog.ActionBlock, action)
	assert.Equal(t, "b", source)

	// An override on an ok result does not promote it.
	action, _ = MaxAction([]CheckResult{{Check: "a", Action: catalog.ActionOK}},
		map[string]string{"a": catalog.ActionBlock})
	assert.Equal(t, catalog.ActionOK, action)

	action, source = MaxAction(nil, nil)
	assert.Equal(t, catalog.ActionOK, action)
	assert.Empty(t, source)
}
