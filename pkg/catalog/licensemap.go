package catalog

import (
	"fmt"
	"strings"
)

// Evidence change policies: which snapshot hash mismatch invalidates a
// signoff.
const (
	ChangePolicyRaw        = "raw"
	ChangePolicyNormalized = "normalized"
	ChangePolicyEither     = "either"
)

// Cosmetic change policies.
const (
	CosmeticWarnOnly       = "warn_only"
	CosmeticTreatAsChanged = "treat_as_changed"
)

// NormalizationRule maps evidence phrases onto an SPDX identifier. Rules are
// evaluated in declared order; the first rule with any matching phrase wins.
type NormalizationRule struct {
	MatchAny []string `yaml:"match_any" json:"match_any"`
	SPDX     string   `yaml:"spdx" json:"spdx"`
}

// Profile is a named license profile in the decision table.
type Profile struct {
	Pool  string   `yaml:"pool" json:"pool"`
	Gates []string `yaml:"gates,omitempty" json:"gates,omitempty"`
}

// LicenseMap is the ordered license decision table.
type LicenseMap struct {
	Allowlist          []string            `yaml:"allowlist" json:"allowlist"`
	Conditional        []string            `yaml:"conditional,omitempty" json:"conditional,omitempty"`
	DenyPrefixes       []string            `yaml:"deny_prefixes,omitempty" json:"deny_prefixes,omitempty"`
	NormalizationRules []NormalizationRule `yaml:"normalization_rules,omitempty" json:"normalization_rules,omitempty"`
	RestrictionPhrases []string            `yaml:"restriction_phrases,omitempty" json:"restriction_phrases,omitempty"`
	Gating             map[string][]string `yaml:"gating,omitempty" json:"gating,omitempty"`
	Profiles           map[string]Profile  `yaml:"profiles,omitempty" json:"profiles,omitempty"`

	EvidenceChangePolicy string `yaml:"evidence_change_policy,omitempty" json:"evidence_change_policy,omitempty"`
	CosmeticChangePolicy string `yaml:"cosmetic_change_policy,omitempty" json:"cosmetic_change_policy,omitempty"`

	MinLicenseConfidence float64 `yaml:"min_license_confidence,omitempty" json:"min_license_confidence,omitempty"`
	RequireYellowSignoff bool    `yaml:"require_yellow_signoff,omitempty" json:"require_yellow_signoff,omitempty"`

	// CELChecks holds named CEL expressions usable as `cel:<name>` content
	// checks. Expressions are evaluated against the target metadata.
	CELChecks map[string]string `yaml:"cel_checks,omitempty" json:"cel_checks,omitempty"`
}

// Allowed reports whether a resolved SPDX id is in the allowlist and not
// covered by a deny prefix.
func (m *LicenseMap) Allowed(spdx string) bool {
	if m.DeniedByPrefix(spdx) {
		return false
	}
	for _, allowed := range m.Allowlist {
		if strings.EqualFold(allowed, spdx) {
			return true
		}
	}
	return false
}

// DeniedByPrefix reports whether the SPDX id starts with any deny prefix.
func (m *LicenseMap) DeniedByPrefix(spdx string) bool {
	for _, prefix := range m.DenyPrefixes {
		if prefix != "" && strings.HasPrefix(strings.ToLower(spdx), strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// Validate checks enum fields and rule shapes.
func (m *LicenseMap) Validate() error {
	switch m.EvidenceChangePolicy {
	case "", ChangePolicyRaw, ChangePolicyNormalized, ChangePolicyEither:
	default:
		return &ValidationError{Field: "evidence_change_policy",
			Detail: fmt.Sprintf("unknown policy %q", m.EvidenceChangePolicy)}
	}
	switch m.CosmeticChangePolicy {
	case "", CosmeticWarnOnly, CosmeticTreatAsChanged:
	default:
		return &ValidationError{Field: "cosmetic_change_policy",
			Detail: fmt.Sprintf("unknown policy %q", m.CosmeticChangePolicy)}
	}
	for i, rule := range m.NormalizationRules {
		if rule.SPDX == "" {
			return &ValidationError{Field: fmt.Sprintf("normalization_rules[%d]", i), Detail: "empty spdx"}
		}
		if len(rule.MatchAny) == 0 {
			return &ValidationError{Field: fmt.Sprintf("normalization_rules[%d]", i), Detail: "empty match_any"}
		}
	}
	for name, profile := range m.Profiles {
		switch profile.Pool {
		case PoolPermissive, PoolCopyleft, PoolQuarantine:
		default:
			return &ValidationError{Field: "profiles." + name,
				Detail: fmt.Sprintf("unknown pool %q", profile.Pool)}
		}
	}
	return nil
}
