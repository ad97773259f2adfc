// Package classifier implements stage 1: evaluating every catalog target's
// license posture into a GREEN / YELLOW / RED routing with a complete audit
// trail. The stage fetches license evidence, resolves SPDX with a confidence
// score, runs denylist and content checks, applies the bucket tie-break
// ladder, and emits three queues plus per-target decision bundles.
package classifier

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/curatorlabs/datacollector/pkg/denylist"
	"github.com/curatorlabs/datacollector/pkg/normalize"
)

// BundleSchemaVersion is the decision bundle schema version.
const BundleSchemaVersion = "1"

// EvidenceSnapshot records one evidence fetch for a target.
type EvidenceSnapshot struct {
	URL           string `json:"url"`
	Status        int    `json:"status,omitempty"`
	FetchedAtUTC  string `json:"fetched_at_utc,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	Bytes         int64  `json:"bytes,omitempty"`

	RawSHA256        string `json:"raw_sha256,omitempty"`
	NormalizedSHA256 string `json:"normalized_sha256,omitempty"`

	TextExtracted           bool   `json:"text_extracted,omitempty"`
	TextExtractionFailed    bool   `json:"text_extraction_failed,omitempty"`
	NormalizedHashFallback  string `json:"normalized_hash_fallback,omitempty"`
	RawChangedFromPrevious  bool   `json:"raw_changed_from_previous,omitempty"`
	NormChangedFromPrevious bool   `json:"normalized_changed_from_previous,omitempty"`
	CosmeticChange          bool   `json:"cosmetic_change,omitempty"`

	Error string `json:"error,omitempty"`

	// HeadersUsedRedacted lists the request headers sent, with credential
	// values replaced. Cookie and authorization values never reach disk.
	HeadersUsedRedacted map[string]string `json:"headers_used_redacted,omitempty"`
}

// RuleFired is one rule contributing to a decision.
type RuleFired struct {
	RuleID   string `json:"rule_id"`
	RuleType string `json:"rule_type"`
	Severity string `json:"severity,omitempty"`
	Field    string `json:"field,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Reason   string `json:"reason"`
	Link     string `json:"link,omitempty"`
}

// SignoffRecord summarizes the human signoff state inside a bundle.
type SignoffRecord struct {
	Status string `json:"status"`
	By     string `json:"by,omitempty"`
	At     string `json:"at,omitempty"`
}

// OverrideRecord documents a deliberate override inside a bundle.
type OverrideRecord struct {
	RuleID        string `json:"rule_id"`
	Justification string `json:"justification"`
	Link          string `json:"link,omitempty"`
}

// DecisionBundle is the per-target audit record.
type DecisionBundle struct {
	TargetID      string   `json:"target_id"`
	Decision      string   `json:"decision"`
	DecidedAtUTC  string   `json:"decided_at_utc"`
	DecidedBy     string   `json:"decided_by"`
	RulesFired    []RuleFired `json:"rules_fired"`
	PrimaryRule   string   `json:"primary_rule,omitempty"`

	EvidenceSnapshot *EvidenceSnapshot         `json:"evidence_snapshot,omitempty"`
	DenylistMatches  []denylist.Hit            `json:"denylist_matches,omitempty"`
	ContentChecks    map[string]map[string]any `json:"content_checks,omitempty"`

	Signoff  *SignoffRecord  `json:"signoff,omitempty"`
	Override *OverrideRecord `json:"override,omitempty"`

	BundleSchemaVersion string `json:"bundle_schema_version"`
}

// ToDict flattens the bundle for JSON serialization.
func (b *DecisionBundle) ToDict() (map[string]any, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BundleFromDict reverses ToDict.
func BundleFromDict(m map[string]any) (*DecisionBundle, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var b DecisionBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse decision bundle: %w", err)
	}
	return &b, nil
}

// CanonicalHash returns the RFC 8785 canonical SHA-256 of the bundle, used
// to content-address bundles in ledgers independent of field order.
func (b *DecisionBundle) CanonicalHash() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize bundle: %w", err)
	}
	return normalize.SHA256Hex(canonical), nil
}
