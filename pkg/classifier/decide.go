package classifier

import (
	"fmt"

	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/denylist"
	"github.com/curatorlabs/datacollector/pkg/normalize"
)

// EvidenceChange is the signoff-staleness verdict for one target.
type EvidenceChange struct {
	RawMismatch        bool `json:"raw_mismatch"`
	NormalizedMismatch bool `json:"normalized_mismatch"`
	CosmeticChange     bool `json:"cosmetic_change"`
	RequiresReview     bool `json:"requires_review"`
}

// Evaluation is the full classification verdict for one target.
type Evaluation struct {
	Bucket          string   `json:"bucket"`
	BucketReason    string   `json:"bucket_reason"`
	Signals         []string `json:"signals,omitempty"`
	OutputPool      string   `json:"output_pool"`
	ReviewRequired  bool     `json:"review_required"`
	RestrictionHits []string `json:"restriction_hits,omitempty"`

	Resolution     Resolution      `json:"resolution"`
	DenylistHits   []denylist.Hit  `json:"denylist_hits,omitempty"`
	CheckResults   []CheckResult   `json:"check_results,omitempty"`
	MaxCheckAction string          `json:"max_check_action,omitempty"`
	EvidenceChange *EvidenceChange `json:"evidence_change,omitempty"`

	NoFetchMissingEvidence bool `json:"no_fetch_missing_evidence,omitempty"`
	SignoffIsStale         bool `json:"signoff_is_stale,omitempty"`

	RulesFired  []RuleFired `json:"rules_fired"`
	PrimaryRule string      `json:"primary_rule,omitempty"`
}

// DecideInput gathers everything the bucket ladder consumes.
type DecideInput struct {
	Target     *catalog.Target
	Map        *catalog.LicenseMap
	Resolution Resolution
	Evidence   *EvidenceSnapshot
	Text       string
	Hits       []denylist.Hit
	Checks     []CheckResult
	Signoff    *catalog.Signoff

	// NoFetchMissing marks an offline run that found no prior snapshot for
	// a target that declares an evidence URL.
	NoFetchMissing bool

	// MinConfidence, when positive, overrides the license map's threshold.
	MinConfidence float64
}

// Decide applies the bucket tie-break ladder, the evidence-change policy,
// and the content-check action lattice, in that order.
func Decide(in DecideInput) Evaluation {
	t := in.Target
	ev := Evaluation{
		Resolution:             in.Resolution,
		DenylistHits:           in.Hits,
		CheckResults:           in.Checks,
		OutputPool:             catalog.PoolForProfile(t.LicenseProfile),
		ReviewRequired:         t.ReviewRequired,
		NoFetchMissingEvidence: in.NoFetchMissing,
	}
	if pool := profilePool(in.Map, t.LicenseProfile); pool != "" {
		ev.OutputPool = pool
	}
	if t.HasGate(catalog.GateRestrictionPhraseScan) && in.Text != "" {
		ev.RestrictionHits = normalize.ContainsAny(in.Text, in.Map.RestrictionPhrases)
	}
	for _, hit := range in.Hits {
		ev.RulesFired = append(ev.RulesFired, RuleFired{
			RuleID: hit.RuleID, RuleType: hit.RuleType,
			Severity: string(hit.Severity), Field: hit.Field,
			Pattern: hit.Pattern, Reason: hit.Reason, Link: hit.Link,
		})
	}

	minConf := in.Map.MinLicenseConfidence
	if in.MinConfidence > 0 {
		minConf = in.MinConfidence
	}
	fetchErrored := in.NoFetchMissing ||
		(in.Evidence != nil && in.Evidence.Error != "")

	// Evidence-change policy runs before the ladder so a stale signoff no
	// longer satisfies step 6.
	signoff := in.Signoff
	if signoff != nil && in.Evidence != nil {
		change := evidenceChange(in.Map, signoff, in.Evidence)
		ev.EvidenceChange = &change
		if change.RequiresReview {
			ev.SignoffIsStale = true
			ev.ReviewRequired = true
			signoff = nil
			ev.addSignal("evidence_changed_since_signoff")
		}
	}

	bucket, reason := ladder(t, in.Map, in.Resolution, ev, signoff, fetchErrored, minConf, in.NoFetchMissing)
	ev.Bucket = bucket
	ev.BucketReason = reason

	// Content-check downgrades.
	action, actionSource := MaxAction(in.Checks, t.ContentCheckActions)
	ev.MaxCheckAction = action
	switch action {
	case catalog.ActionBlock:
		ev.Bucket = catalog.BucketRed
		ev.BucketReason = fmt.Sprintf("content check %s: block", actionSource)
		ev.addSignal("content_check_block:" + actionSource)
	case catalog.ActionQuarantine:
		if ev.Bucket == catalog.BucketGreen {
			ev.Bucket = catalog.BucketYellow
			ev.BucketReason = fmt.Sprintf("content check %s: quarantine", actionSource)
		}
		ev.OutputPool = catalog.PoolQuarantine
		ev.addSignal("content_check_quarantine:" + actionSource)
	case catalog.ActionWarn:
		ev.addSignal("content_check_warn:" + actionSource)
	}

	if ev.Bucket == catalog.BucketYellow && in.Map.RequireYellowSignoff && !signoff.Approved() {
		ev.ReviewRequired = true
	}
	if len(ev.RestrictionHits) > 0 {
		ev.addSignal("restriction_phrases")
	}
	if ev.NoFetchMissingEvidence {
		ev.addSignal("no_fetch_missing_evidence")
	}
	return ev
}

// ladder is the seven-step tie-break; the first matching step wins.
func ladder(t *catalog.Target, m *catalog.LicenseMap, res Resolution, ev Evaluation,
	signoff *catalog.Signoff, fetchErrored bool, minConf float64, noFetchMissing bool) (string, string) {

	if denylist.AnyHardRed(ev.DenylistHits) {
		return catalog.BucketRed, "denylist hard_red match"
	}
	if m.DeniedByPrefix(res.SPDX) {
		return catalog.BucketRed, fmt.Sprintf("license %s matches deny prefix", res.SPDX)
	}
	if fetchErrored && t.HasGate(catalog.GateSnapshotTerms) {
		if noFetchMissing {
			return catalog.BucketYellow, "no_fetch_missing_evidence"
		}
		return catalog.BucketYellow, "evidence fetch failed with snapshot_terms gate"
	}
	if denylist.AnyForceYellow(ev.DenylistHits) {
		return catalog.BucketYellow, "denylist force_yellow match"
	}
	if t.HasGate(catalog.GateRestrictionPhraseScan) && len(ev.RestrictionHits) > 0 {
		return catalog.BucketYellow, "restriction phrases present in evidence"
	}
	spdxAllowed := m.Allowed(res.SPDX)
	confOK := res.Confidence >= minConf
	manualReview := t.HasGate(catalog.GateManualLegalReview)
	reviewSatisfied := !ev.ReviewRequired || signoff.Approved()
	if spdxAllowed && confOK && !manualReview && reviewSatisfied {
		return catalog.BucketGreen, fmt.Sprintf("license %s allowed at confidence %.2f", res.SPDX, res.Confidence)
	}
	switch {
	case !spdxAllowed:
		return catalog.BucketYellow, fmt.Sprintf("license %s not allowlisted", res.SPDX)
	case !confOK:
		return catalog.BucketYellow, fmt.Sprintf("license confidence %.2f below %.2f", res.Confidence, minConf)
	case manualReview:
		return catalog.BucketYellow, "manual_legal_review gate"
	default:
		return catalog.BucketYellow, "review required without approved signoff"
	}
}

func evidenceChange(m *catalog.LicenseMap, signoff *catalog.Signoff, snap *EvidenceSnapshot) EvidenceChange {
	c := EvidenceChange{}
	c.RawMismatch = signoff.EvidenceRawSHA256 != "" &&
		snap.RawSHA256 != "" && signoff.EvidenceRawSHA256 != snap.RawSHA256
	c.NormalizedMismatch = signoff.EvidenceNormalizedSHA256 != "" &&
		snap.NormalizedSHA256 != "" && signoff.EvidenceNormalizedSHA256 != snap.NormalizedSHA256
	c.CosmeticChange = c.RawMismatch && !c.NormalizedMismatch &&
		signoff.EvidenceNormalizedSHA256 != "" && snap.NormalizedSHA256 != "" &&
		!snap.TextExtractionFailed

	switch m.EvidenceChangePolicy {
	case catalog.ChangePolicyRaw:
		c.RequiresReview = c.RawMismatch
	case catalog.ChangePolicyNormalized:
		c.RequiresReview = c.NormalizedMismatch
	default: // either
		c.RequiresReview = c.RawMismatch || c.NormalizedMismatch
	}
	if c.CosmeticChange {
		// A cosmetic rewrite either warns only or is treated as a real
		// change, regardless of the base policy.
		c.RequiresReview = m.CosmeticChangePolicy == catalog.CosmeticTreatAsChanged
	}
	return c
}

func profilePool(m *catalog.LicenseMap, profile string) string {
	if p, ok := m.Profiles[profile]; ok {
		return p.Pool
	}
	return ""
}

func (e *Evaluation) addSignal(s string) {
	for _, existing := range e.Signals {
		if existing == s {
			return
		}
	}
	e.Signals = append(e.Signals, s)
}
