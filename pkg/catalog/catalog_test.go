package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCatalog = `
version: "1"
targets:
  - id: acme/corpus
    name: Acme Corpus
    enabled: true
    license_profile: permissive
    license_evidence:
      spdx_hint: CC-BY-4.0
      url: https://acme.example/license
    download:
      strategy: http
      url: https://acme.example/corpus.tar.gz
    content_checks: [metadata_complete]
  - id: other/set
    name: Other Set
    enabled: false
    download:
      strategy: none
`

func TestLoadTargets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "targets.yaml", sampleCatalog)
	known := map[string]bool{"metadata_complete": true}

	targets, warnings, err := LoadTargets(path, known, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, targets, 2)
	assert.Equal(t, "acme/corpus", targets[0].ID)
	assert.Equal(t, ProfilePermissive, targets[0].LicenseProfile)
	assert.Equal(t, ProfileUnknown, targets[1].LicenseProfile, "missing profile defaults to unknown")
}

func TestLoadTargets_UnknownCheckWarnsThenFailsStrict(t *testing.T) {
	catalog := `
targets:
  - id: t1
    name: T1
    enabled: true
    download: {strategy: none}
    content_checks: [no_such_check]
`
	path := writeFile(t, t.TempDir(), "targets.yaml", catalog)

	_, warnings, err := LoadTargets(path, nil, false)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "no_such_check")

	_, _, err = LoadTargets(path, nil, true)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadTargets_HardErrors(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
	}{
		{"duplicate id", `
targets:
  - {id: t1, name: A, enabled: true, download: {strategy: none}}
  - {id: t1, name: B, enabled: true, download: {strategy: none}}
`},
		{"unknown strategy", `
targets:
  - {id: t1, name: A, enabled: true, download: {strategy: carrier_pigeon}}
`},
		{"unknown gate", `
targets:
  - id: t1
    name: A
    enabled: true
    download: {strategy: none}
    license_gates: [astrology]
`},
		{"unknown profile", `
targets:
  - {id: t1, name: A, enabled: true, license_profile: freeware, download: {strategy: none}}
`},
		{"unknown check action", `
targets:
  - id: t1
    name: A
    enabled: true
    download: {strategy: none}
    content_check_actions: {some_check: explode}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "targets.yaml", tt.catalog)
			_, _, err := LoadTargets(path, nil, false)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	// cel: prefixed checks are resolved at engine construction, not load.
	path := writeFile(t, t.TempDir(), "targets.yaml", `
targets:
  - id: t1
    name: A
    enabled: true
    download: {strategy: none}
    content_checks: ["cel:has_publisher"]
`)
	_, warnings, err := LoadTargets(path, nil, true)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestLoadTargets_MinEngineVersion(t *testing.T) {
	path := writeFile(t, t.TempDir(), "targets.yaml", `
min_engine_version: ">= 99.0.0"
targets: []
`)
	_, _, err := LoadTargets(path, nil, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "min_engine_version", verr.Field)
}

func TestLicenseMap(t *testing.T) {
	m := &LicenseMap{
		Allowlist:    []string{"MIT", "CC-BY-4.0"},
		DenyPrefixes: []string{"CC-BY-NC"},
	}
	require.NoError(t, m.Validate())

	assert.True(t, m.Allowed("MIT"))
	assert.True(t, m.Allowed("cc-by-4.0"), "matching is case-insensitive")
	assert.False(t, m.Allowed("GPL-3.0-only"))
	assert.True(t, m.DeniedByPrefix("CC-BY-NC-4.0"))
	assert.False(t, m.DeniedByPrefix("CC-BY-4.0"))
}

func TestLicenseMap_Validate(t *testing.T) {
	bad := &LicenseMap{EvidenceChangePolicy: "sometimes"}
	assert.Error(t, bad.Validate())

	bad = &LicenseMap{CosmeticChangePolicy: "ignore"}
	assert.Error(t, bad.Validate())

	bad = &LicenseMap{NormalizationRules: []NormalizationRule{{SPDX: "MIT"}}}
	assert.Error(t, bad.Validate())

	bad = &LicenseMap{Profiles: map[string]Profile{"weird": {Pool: "unlimited"}}}
	assert.Error(t, bad.Validate())
}

func TestActionRank(t *testing.T) {
	assert.Less(t, ActionRank(ActionOK), ActionRank(ActionWarn))
	assert.Less(t, ActionRank(ActionWarn), ActionRank(ActionQuarantine))
	assert.Less(t, ActionRank(ActionQuarantine), ActionRank(ActionBlock))
	assert.Equal(t, 0, ActionRank("nonsense"))
}

func TestQueueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "green_download.jsonl")
	rows := []QueueRow{
		{ID: "a", Bucket: BucketGreen, OutputPool: PoolPermissive, BucketReason: "allowlisted"},
		{ID: "b", Bucket: BucketGreen, OutputPool: PoolCopyleft, BucketReason: "copyleft profile"},
	}
	require.NoError(t, WriteQueue(path, rows))

	got, err := ReadQueue(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, PoolCopyleft, got[1].OutputPool)
}

func TestLoadSignoff(t *testing.T) {
	dir := t.TempDir()

	s, err := LoadSignoff(dir)
	require.NoError(t, err)
	assert.Nil(t, s, "missing signoff is not an error")
	assert.False(t, s.Approved())

	writeFile(t, dir, "review_signoff.json",
		`{"status":"approved","by":"reviewer@example.org","at":"2026-01-05T10:00:00Z"}`)
	s, err = LoadSignoff(dir)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Approved())
}

func TestVerifySignoffJWT(t *testing.T) {
	key := []byte("reviewer-hmac-key")
	sign := func(claims jwt.MapClaims, k []byte) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(k)
		require.NoError(t, err)
		return signed
	}
	base := jwt.MapClaims{
		"target_id": "acme/corpus",
		"status":    SignoffApproved,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}

	s := &Signoff{Status: SignoffApproved, SignoffJWT: sign(base, key)}
	assert.NoError(t, VerifySignoffJWT(s, "acme/corpus", key))

	assert.Error(t, VerifySignoffJWT(s, "other/target", key), "target claim must match")
	assert.Error(t, VerifySignoffJWT(s, "acme/corpus", []byte("wrong key")))
	assert.Error(t, VerifySignoffJWT(&Signoff{Status: SignoffApproved}, "acme/corpus", key),
		"token is mandatory once a key is configured")

	mismatched := &Signoff{Status: SignoffRejected, SignoffJWT: sign(base, key)}
	assert.Error(t, VerifySignoffJWT(mismatched, "acme/corpus", key),
		"token status must agree with the document")
}
