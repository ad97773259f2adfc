// Package catalog holds the declarative inputs of a pipeline run: the target
// catalog, the license decision table, the denylist, and human review
// signoffs. Targets are immutable once loaded; every downstream artifact is
// derived from them.
package catalog

import "fmt"

// License profiles a target may declare.
const (
	ProfilePermissive   = "permissive"
	ProfilePublicDomain = "public_domain"
	ProfileCopyleft     = "copyleft"
	ProfileRecordLevel  = "record_level"
	ProfileUnknown      = "unknown"
	ProfileDeny         = "deny"
)

// Output license pools.
const (
	PoolPermissive = "permissive"
	PoolCopyleft   = "copyleft"
	PoolQuarantine = "quarantine"
)

// The three supported license gates.
const (
	GateSnapshotTerms         = "snapshot_terms"
	GateRestrictionPhraseScan = "restriction_phrase_scan"
	GateManualLegalReview     = "manual_legal_review"
)

// Content check actions, ordered by severity (the lattice ok < warn <
// quarantine < block; the maximum action across checks wins).
const (
	ActionOK         = "ok"
	ActionWarn       = "warn"
	ActionQuarantine = "quarantine"
	ActionBlock      = "block"
)

// ActionRank orders content-check actions for the downgrade lattice.
func ActionRank(action string) int {
	switch action {
	case ActionWarn:
		return 1
	case ActionQuarantine:
		return 2
	case ActionBlock:
		return 3
	default:
		return 0
	}
}

// Recognized download strategies.
var KnownStrategies = map[string]bool{
	"http": true, "ftp": true, "git": true, "zenodo": true, "figshare": true,
	"huggingface_datasets": true, "s3_sync": true, "aws_requester_pays": true,
	"gcs_sync": true, "torrent": true, "github_release": true, "none": true,
}

// LicenseEvidence points at the license-bearing page for a target.
type LicenseEvidence struct {
	SPDXHint string `yaml:"spdx_hint" json:"spdx_hint"`
	URL      string `yaml:"url" json:"url"`
}

// Download is a target's acquisition plan.
type Download struct {
	Strategy       string         `yaml:"strategy" json:"strategy"`
	URL            string         `yaml:"url,omitempty" json:"url,omitempty"`
	URLs           []string       `yaml:"urls,omitempty" json:"urls,omitempty"`
	Filename       string         `yaml:"filename,omitempty" json:"filename,omitempty"`
	Filenames      []string       `yaml:"filenames,omitempty" json:"filenames,omitempty"`
	ExpectedSize   int64          `yaml:"expected_size,omitempty" json:"expected_size,omitempty"`
	ExpectedSHA256 string         `yaml:"expected_sha256,omitempty" json:"expected_sha256,omitempty"`
	MaxBytes       int64          `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
	Unpack         bool           `yaml:"unpack,omitempty" json:"unpack,omitempty"`
	Config         map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// AllURLs returns the URL list, folding the singular field in.
func (d Download) AllURLs() []string {
	if d.URL != "" {
		return append([]string{d.URL}, d.URLs...)
	}
	return d.URLs
}

// FilenameFor returns the declared filename for URL index i, if any.
func (d Download) FilenameFor(i int) string {
	if i == 0 && d.Filename != "" {
		return d.Filename
	}
	if i < len(d.Filenames) {
		return d.Filenames[i]
	}
	return ""
}

// ConfigString reads a string option from the strategy config block.
func (d Download) ConfigString(key string) string {
	if d.Config == nil {
		return ""
	}
	if v, ok := d.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigBool reads a boolean option from the strategy config block.
func (d Download) ConfigBool(key string) bool {
	if d.Config == nil {
		return false
	}
	v, _ := d.Config[key].(bool)
	return v
}

// Routing carries the subject-matter hints pipelines use to place records.
type Routing struct {
	Subject     string  `yaml:"subject,omitempty" json:"subject,omitempty"`
	Domain      string  `yaml:"domain,omitempty" json:"domain,omitempty"`
	Category    string  `yaml:"category,omitempty" json:"category,omitempty"`
	Level       string  `yaml:"level,omitempty" json:"level,omitempty"`
	Granularity string  `yaml:"granularity,omitempty" json:"granularity,omitempty"`
	Confidence  float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Reason      string  `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Target is one declarative dataset to be acquired.
type Target struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`

	Publisher   string `yaml:"publisher,omitempty" json:"publisher,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	LicenseProfile  string          `yaml:"license_profile" json:"license_profile"`
	LicenseEvidence LicenseEvidence `yaml:"license_evidence" json:"license_evidence"`

	Download Download `yaml:"download" json:"download"`

	LicenseGates        []string          `yaml:"license_gates,omitempty" json:"license_gates,omitempty"`
	ContentChecks       []string          `yaml:"content_checks,omitempty" json:"content_checks,omitempty"`
	ContentCheckActions map[string]string `yaml:"content_check_actions,omitempty" json:"content_check_actions,omitempty"`

	Routing Routing `yaml:"routing,omitempty" json:"routing,omitempty"`

	ReviewRequired bool   `yaml:"review_required,omitempty" json:"review_required,omitempty"`
	SplitGroupID   string `yaml:"split_group_id,omitempty" json:"split_group_id,omitempty"`

	AllowWithoutSignoff bool `yaml:"allow_without_signoff,omitempty" json:"allow_without_signoff,omitempty"`
}

// HasGate reports whether the target requires the named license gate.
func (t *Target) HasGate(gate string) bool {
	for _, g := range t.LicenseGates {
		if g == gate {
			return true
		}
	}
	return false
}

// PoolForProfile maps a license profile to its output pool.
func PoolForProfile(profile string) string {
	switch profile {
	case ProfilePermissive, ProfilePublicDomain:
		return PoolPermissive
	case ProfileCopyleft:
		return PoolCopyleft
	default:
		return PoolQuarantine
	}
}

// ValidProfile reports whether the profile is one of the recognized values.
func ValidProfile(profile string) bool {
	switch profile {
	case ProfilePermissive, ProfilePublicDomain, ProfileCopyleft,
		ProfileRecordLevel, ProfileUnknown, ProfileDeny:
		return true
	}
	return false
}

// ValidationError is a programmer/config error: the catalog itself is wrong.
// Under --strict it aborts the run with exit code 1.
type ValidationError struct {
	TargetID string
	Field    string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.TargetID != "" {
		return fmt.Sprintf("config validation: target %s: %s: %s", e.TargetID, e.Field, e.Detail)
	}
	return fmt.Sprintf("config validation: %s: %s", e.Field, e.Detail)
}
