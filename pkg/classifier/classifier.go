package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/checkpoint"
	"github.com/curatorlabs/datacollector/pkg/denylist"
	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/ledger"
	"github.com/curatorlabs/datacollector/pkg/netguard"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/retry"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// Config wires one classification run.
type Config struct {
	Roots    layout.Roots
	Targets  []catalog.Target
	Map      *catalog.LicenseMap
	Denylist *denylist.Denylist

	NoFetch         bool
	Strict          bool
	LimitTargets    int
	MinConfidence   float64
	EvidenceHeaders map[string]string

	// AllowPrivateEvidenceHosts disables the SSRF check for evidence URLs.
	AllowPrivateEvidenceHosts bool
	InternalMirrorAllowlist   []string

	Retry retry.Policy

	RunID     string
	DecidedBy string

	// SignoffKey, when set, requires signoff tokens to verify.
	SignoffKey []byte

	Obs *observability.Obs
}

// Summary is the run-level result of classification.
type Summary struct {
	RunID         string         `json:"run_id"`
	StartedAtUTC  string         `json:"started_at_utc"`
	FinishedAtUTC string         `json:"finished_at_utc"`
	TargetsTotal  int            `json:"targets_total"`
	Counts        map[string]int `json:"counts"`
	FailedTargets []FailedTarget `json:"failed_targets,omitempty"`
	NoFetch       bool           `json:"no_fetch,omitempty"`
}

// FailedTarget records one per-target error for the run summary.
type FailedTarget struct {
	TargetID string `json:"target_id"`
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
}

// Engine runs stage 1 over a target catalog.
type Engine struct {
	cfg     Config
	fetcher *Fetcher
	checks  *CheckRegistry
	obs     *observability.Obs
	clock   func() time.Time
}

// New builds a classification engine. CEL check compilation failures are
// config errors and surface here.
func New(cfg Config) (*Engine, error) {
	if cfg.Obs == nil {
		cfg.Obs = observability.Noop()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.DecidedBy == "" {
		cfg.DecidedBy = "classifier"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default().FromEnv()
	}
	if cfg.Map == nil {
		return nil, &catalog.ValidationError{Field: "license_map", Detail: "missing"}
	}
	checks, err := NewCheckRegistry(cfg.Map.CELChecks)
	if err != nil {
		return nil, err
	}
	guard := netguard.New(cfg.InternalMirrorAllowlist, cfg.AllowPrivateEvidenceHosts)
	return &Engine{
		cfg:     cfg,
		fetcher: NewFetcher(guard, cfg.EvidenceHeaders, cfg.Retry, cfg.Obs),
		checks:  checks,
		obs:     cfg.Obs,
		clock:   time.Now,
	}, nil
}

// Checks exposes the registry for catalog validation.
func (e *Engine) Checks() *CheckRegistry { return e.checks }

// Classify evaluates every target and writes the three queues, per-target
// evaluation manifests and decision bundles, the run summary, the dry-run
// report, and the per-run ledger. Targets run single file; evidence fetching
// dominates the wall time and downstream stages parallelize instead.
func (e *Engine) Classify(ctx context.Context) (*Summary, error) {
	ctx, span := e.obs.StartSpan(ctx, "classify.run")
	defer span.End()

	started := e.clock().UTC()
	summary := &Summary{
		RunID:        e.cfg.RunID,
		StartedAtUTC: started.Format(time.RFC3339),
		Counts:       map[string]int{},
		NoFetch:      e.cfg.NoFetch,
	}
	state := checkpoint.NewState(e.cfg.RunID, "classifier")

	queues := map[string][]catalog.QueueRow{}
	var reportLines []string
	var evidenceChanges []map[string]any

	targets := e.cfg.Targets
	if e.cfg.LimitTargets > 0 && len(targets) > e.cfg.LimitTargets {
		targets = targets[:e.cfg.LimitTargets]
	}
	summary.TargetsTotal = len(targets)

	for i := range targets {
		t := &targets[i]
		if !t.Enabled {
			summary.Counts["disabled"]++
			continue
		}
		row, ev, err := e.classifyTarget(ctx, t)
		if err != nil {
			summary.FailedTargets = append(summary.FailedTargets, FailedTarget{
				TargetID: t.ID, Error: "classify_failed", Message: err.Error(),
			})
			e.obs.Metrics.Errors.WithLabelValues("classifier", "classify_failed").Inc()
			e.obs.Log.Error("classify target", "target_id", t.ID, "error", err)
			continue
		}
		queues[queueFor(row.Bucket)] = append(queues[queueFor(row.Bucket)], *row)
		summary.Counts[row.Bucket]++
		state.RecordTarget(t.ID, row.Bucket)
		reportLines = append(reportLines,
			fmt.Sprintf("%-7s %-40s %s", row.Bucket, t.ID, row.BucketReason))
		if ev.EvidenceChange != nil && ev.EvidenceChange.RequiresReview {
			evidenceChanges = append(evidenceChanges, map[string]any{
				"target_id":           t.ID,
				"raw_mismatch":        ev.EvidenceChange.RawMismatch,
				"normalized_mismatch": ev.EvidenceChange.NormalizedMismatch,
				"cosmetic_change":     ev.EvidenceChange.CosmeticChange,
				"detected_at_utc":     e.clock().UTC().Format(time.RFC3339),
			})
		}
		e.obs.Metrics.TargetsProcessed.WithLabelValues("classifier", strings.ToLower(row.Bucket)).Inc()
	}

	summary.FinishedAtUTC = e.clock().UTC().Format(time.RFC3339)

	if err := e.writeOutputs(queues, summary, reportLines, evidenceChanges); err != nil {
		return summary, err
	}
	if err := state.Save(filepath.Join(e.cfg.Roots.LedgerRoot, "classifier_checkpoint.json")); err != nil {
		e.obs.Log.Warn("save checkpoint", "error", err)
	}
	e.obs.Log.Info("classification complete",
		"run_id", summary.RunID,
		"green", summary.Counts[catalog.BucketGreen],
		"yellow", summary.Counts[catalog.BucketYellow],
		"red", summary.Counts[catalog.BucketRed],
		"failed", len(summary.FailedTargets))
	return summary, nil
}

func (e *Engine) classifyTarget(ctx context.Context, t *catalog.Target) (*catalog.QueueRow, *Evaluation, error) {
	ctx, span := e.obs.StartSpan(ctx, "classify.target")
	defer span.End()

	manifestDir := e.cfg.Roots.ManifestDir(t.ID)

	var snap *EvidenceSnapshot
	var text string
	noFetchMissing := false
	evidenceURL := t.LicenseEvidence.URL
	if evidenceURL != "" {
		if e.cfg.NoFetch {
			snap, text = LoadOffline(manifestDir)
			if snap == nil {
				noFetchMissing = true
			}
		} else {
			snap, text = e.fetcher.Fetch(ctx, evidenceURL, manifestDir)
		}
	}

	resolution := ResolveSPDX(t.LicenseEvidence.SPDXHint, text, e.cfg.Map.NormalizationRules)

	hits, err := e.cfg.Denylist.Match(haystackFor(t))
	if err != nil {
		return nil, nil, fmt.Errorf("denylist: %w", err)
	}

	var checkResults []CheckResult
	in := CheckInput{Target: t, Resolution: resolution, Evidence: snap}
	for _, name := range t.ContentChecks {
		checkResults = append(checkResults, e.checks.Run(name, in))
	}

	signoff, err := catalog.LoadSignoff(manifestDir)
	if err != nil {
		e.obs.Log.Warn("read signoff", "target_id", t.ID, "error", err)
		signoff = nil
	}
	if signoff != nil && len(e.cfg.SignoffKey) > 0 {
		if err := catalog.VerifySignoffJWT(signoff, t.ID, e.cfg.SignoffKey); err != nil {
			e.obs.Log.Warn("signoff token rejected", "target_id", t.ID, "error", err)
			signoff = nil
		}
	}

	ev := Decide(DecideInput{
		Target:         t,
		Map:            e.cfg.Map,
		Resolution:     resolution,
		Evidence:       snap,
		Text:           text,
		Hits:           hits,
		Checks:         checkResults,
		Signoff:        signoff,
		NoFetchMissing: noFetchMissing,
		MinConfidence:  e.cfg.MinConfidence,
	})

	bundle := e.buildBundle(t, &ev, snap, signoff)
	if err := e.writeTargetOutputs(t, &ev, bundle, manifestDir, checkResults); err != nil {
		return nil, nil, err
	}
	row := e.buildRow(t, &ev, manifestDir, signoff)
	return row, &ev, nil
}

func (e *Engine) buildBundle(t *catalog.Target, ev *Evaluation, snap *EvidenceSnapshot, signoff *catalog.Signoff) *DecisionBundle {
	b := &DecisionBundle{
		TargetID:            t.ID,
		Decision:            ev.Bucket,
		DecidedAtUTC:        e.clock().UTC().Format(time.RFC3339),
		DecidedBy:           e.cfg.DecidedBy,
		RulesFired:          ev.RulesFired,
		PrimaryRule:         ev.PrimaryRule,
		EvidenceSnapshot:    snap,
		DenylistMatches:     ev.DenylistHits,
		BundleSchemaVersion: BundleSchemaVersion,
	}
	if len(ev.RulesFired) > 0 {
		b.PrimaryRule = ev.RulesFired[0].RuleID
	}
	if len(ev.CheckResults) > 0 {
		b.ContentChecks = map[string]map[string]any{}
		for _, res := range ev.CheckResults {
			b.ContentChecks[res.Check] = map[string]any{
				"action": res.Action,
				"reason": res.Reason,
				"detail": res.Detail,
			}
		}
	}
	if signoff != nil {
		b.Signoff = &SignoffRecord{Status: signoff.Status, By: signoff.By, At: signoff.At}
		if signoff.Override != nil {
			b.Override = &OverrideRecord{
				RuleID:        signoff.Override.RuleID,
				Justification: signoff.Override.Justification,
				Link:          signoff.Override.Link,
			}
		}
	}
	return b
}

func (e *Engine) writeTargetOutputs(t *catalog.Target, ev *Evaluation, bundle *DecisionBundle,
	manifestDir string, checks []CheckResult) error {

	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return err
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(manifestDir, "evaluation.json"), ev); err != nil {
		return fmt.Errorf("write evaluation: %w", err)
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(manifestDir, "decision_bundle.json"), bundle); err != nil {
		return fmt.Errorf("write decision bundle: %w", err)
	}
	if len(checks) > 0 {
		checksDir := filepath.Join(e.cfg.Roots.RunLedgerDir(e.cfg.RunID),
			safepath.SanitizeID(t.ID), "checks")
		if err := os.MkdirAll(checksDir, 0o755); err != nil {
			return err
		}
		for _, res := range checks {
			name := safepath.SanitizeFilename(strings.ReplaceAll(res.Check, ":", "_"), "check")
			if err := ledger.WriteJSONAtomic(filepath.Join(checksDir, name+".json"), res); err != nil {
				return fmt.Errorf("write check result: %w", err)
			}
		}
	}
	return nil
}

func (e *Engine) buildRow(t *catalog.Target, ev *Evaluation, manifestDir string, signoff *catalog.Signoff) *catalog.QueueRow {
	row := &catalog.QueueRow{
		ID:                     t.ID,
		Name:                   t.Name,
		Bucket:                 ev.Bucket,
		LicenseProfile:         t.LicenseProfile,
		ResolvedSPDX:           ev.Resolution.SPDX,
		ResolvedSPDXConfidence: ev.Resolution.Confidence,
		RestrictionHits:        ev.RestrictionHits,
		LicenseEvidenceURL:     t.LicenseEvidence.URL,
		ManifestDir:            manifestDir,
		Download:               t.Download,
		Enabled:                t.Enabled,
		ContentChecks:          t.ContentChecks,
		ContentCheckActions:    t.ContentCheckActions,
		RoutingSubject:         t.Routing.Subject,
		RoutingDomain:          t.Routing.Domain,
		RoutingCategory:        t.Routing.Category,
		RoutingLevel:           t.Routing.Level,
		RoutingGranularity:     t.Routing.Granularity,
		RoutingConfidence:      t.Routing.Confidence,
		RoutingReason:          t.Routing.Reason,
		OutputPool:             ev.OutputPool,
		Signals:                ev.Signals,
		BucketReason:           ev.BucketReason,
		SignoffIsStale:         ev.SignoffIsStale,
		AllowWithoutSignoff:    t.AllowWithoutSignoff,
	}
	if signoff != nil {
		row.SignoffRawSHA256 = signoff.EvidenceRawSHA256
		row.SignoffNormalizedSHA256 = signoff.EvidenceNormalizedSHA256
	}
	return row
}

func (e *Engine) writeOutputs(queues map[string][]catalog.QueueRow, summary *Summary,
	reportLines []string, evidenceChanges []map[string]any) error {

	if err := os.MkdirAll(e.cfg.Roots.QueuesRoot, 0o755); err != nil {
		return err
	}
	for _, name := range []string{layout.QueueGreen, layout.QueueYellow, layout.QueueRed} {
		if err := catalog.WriteQueue(e.cfg.Roots.QueuePath(name), queues[name]); err != nil {
			return fmt.Errorf("write queue %s: %w", name, err)
		}
	}
	if err := ledger.WriteJSONAtomic(
		filepath.Join(e.cfg.Roots.QueuesRoot, "run_summary.json"), summary); err != nil {
		return err
	}
	sort.Strings(reportLines)
	report := strings.Join(reportLines, "\n")
	if report != "" {
		report += "\n"
	}
	if err := ledger.WriteBytesAtomic(
		filepath.Join(e.cfg.Roots.QueuesRoot, "dry_run_report.txt"), []byte(report)); err != nil {
		return err
	}

	runDir := e.cfg.Roots.RunLedgerDir(e.cfg.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	snapshot := map[string]any{
		"run_id":        e.cfg.RunID,
		"captured_at":   summary.FinishedAtUTC,
		"license_map":   e.cfg.Map,
		"denylist":      e.cfg.Denylist,
		"no_fetch":      e.cfg.NoFetch,
		"min_confidence": func() float64 {
			if e.cfg.MinConfidence > 0 {
				return e.cfg.MinConfidence
			}
			return e.cfg.Map.MinLicenseConfidence
		}(),
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(runDir, "policy_snapshot.json"), snapshot); err != nil {
		return err
	}
	metrics := map[string]any{
		"run_id":         summary.RunID,
		"targets_total":  summary.TargetsTotal,
		"counts":         summary.Counts,
		"failed_targets": len(summary.FailedTargets),
		"started_at":     summary.StartedAtUTC,
		"finished_at":    summary.FinishedAtUTC,
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(runDir, "metrics.json"), metrics); err != nil {
		return err
	}
	for _, change := range evidenceChanges {
		if err := ledger.AppendJSONL(filepath.Join(e.cfg.Roots.LedgerRoot, "evidence_changes.jsonl"), change); err != nil {
			return err
		}
	}
	return nil
}

func haystackFor(t *catalog.Target) denylist.Haystack {
	urls := map[string]string{}
	if t.LicenseEvidence.URL != "" {
		urls["license_evidence.url"] = t.LicenseEvidence.URL
	}
	for i, u := range t.Download.AllURLs() {
		urls[fmt.Sprintf("download.urls[%d]", i)] = u
	}
	return denylist.Haystack{
		Fields: map[string]string{
			"id":          t.ID,
			"name":        t.Name,
			"publisher":   t.Publisher,
			"description": t.Description,
		},
		URLFields: urls,
	}
}

func queueFor(bucket string) string {
	switch bucket {
	case catalog.BucketGreen:
		return layout.QueueGreen
	case catalog.BucketRed:
		return layout.QueueRed
	default:
		return layout.QueueYellow
	}
}
