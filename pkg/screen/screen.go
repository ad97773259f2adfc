// Package screen implements stage 3: record-level review of acquired YELLOW
// payloads. Each record passes through a pluggable domain module that either
// pitches it (with a reason, sampled into the pitch ledger) or transforms it
// into the canonical output shape, which is validated and appended to
// atomically flushed shards.
package screen

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/dedupe"
	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/ledger"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/screen/contract"
)

// RecordContext is the per-record surround a domain module sees.
type RecordContext struct {
	Row        catalog.QueueRow
	Pool       string
	SourceFile string
}

// FilterDecision is a domain module's verdict on one raw record.
type FilterDecision struct {
	Allow       bool
	Reason      string
	Text        string
	LicenseSPDX string
	Extra       map[string]any
	SampleExtra map[string]any
}

// Domain is the pluggable per-record reviewer. Implementations may also
// satisfy Preflighter or DedupeKeyer.
type Domain interface {
	Name() string
	FilterRecord(raw map[string]any, rc *RecordContext) FilterDecision
	TransformRecord(raw map[string]any, dec FilterDecision, rc *RecordContext) (map[string]any, error)
}

// Preflighter lets a domain veto a whole target before any record is read.
type Preflighter interface {
	Preflight(rc *RecordContext) error
}

// DedupeKeyer lets a domain choose the text used for near-duplicate
// detection instead of the full record text.
type DedupeKeyer interface {
	DedupeKey(raw map[string]any, dec FilterDecision) string
}

// Options configures one screening run.
type Options struct {
	RequireYellowSignoff bool
	Strict               bool

	PitchSampleLimit int // per reason, default 25
	PitchTextLimit   int // sample text truncation, default 500

	// LicenseAllowlist, when non-empty, pitches records whose record-level
	// license is not listed. record_level targets must declare one.
	LicenseAllowlist []string

	Shards ShardConfig

	RunID string
}

func (o Options) withDefaults() Options {
	if o.PitchSampleLimit <= 0 {
		o.PitchSampleLimit = 25
	}
	if o.PitchTextLimit <= 0 {
		o.PitchTextLimit = 500
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	return o
}

// TargetResult is the per-target screening outcome.
type TargetResult struct {
	TargetID string `json:"target_id"`
	Status   string `json:"status"` // ok | skipped | error
	Reason   string `json:"reason,omitempty"`
	Passed   int64  `json:"passed"`
	Pitched  int64  `json:"pitched"`
	Files    int    `json:"files"`
}

// Summary is the run-level screening report.
type Summary struct {
	RunID         string           `json:"run_id"`
	Domain        string           `json:"domain"`
	StartedAtUTC  string           `json:"started_at_utc"`
	FinishedAtUTC string           `json:"finished_at_utc"`
	TargetsTotal  int              `json:"targets_total"`
	Passed        int64            `json:"passed"`
	Pitched       int64            `json:"pitched"`
	PitchReasons  map[string]int64 `json:"pitch_reasons,omitempty"`
	Results       []TargetResult   `json:"results"`
}

// Engine drives one screening run.
type Engine struct {
	roots     layout.Roots
	opts      Options
	validator *contract.Validator
	detector  *dedupe.Detector
	obs       *observability.Obs
	clock     func() time.Time

	sharders     map[string]*Sharder
	sampleCounts map[string]int
}

// NewEngine wires a screening run. detector may be nil to disable
// near-duplicate pitching.
func NewEngine(roots layout.Roots, opts Options, detector *dedupe.Detector, obs *observability.Obs) (*Engine, error) {
	if obs == nil {
		obs = observability.Noop()
	}
	validator, err := contract.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		roots:        roots,
		opts:         opts.withDefaults(),
		validator:    validator,
		detector:     detector,
		obs:          obs,
		clock:        time.Now,
		sharders:     map[string]*Sharder{},
		sampleCounts: map[string]int{},
	}, nil
}

// Screen reviews every target on the yellow queue with the given domain.
// An output contract violation aborts the whole run: it means the domain
// module is emitting malformed records.
func (e *Engine) Screen(ctx context.Context, queuePath string, domain Domain) (*Summary, error) {
	ctx, span := e.obs.StartSpan(ctx, "screen.run")
	defer span.End()

	rows, err := catalog.ReadQueue(queuePath)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	summary := &Summary{
		RunID:        e.opts.RunID,
		Domain:       domain.Name(),
		StartedAtUTC: e.clock().UTC().Format(time.RFC3339),
		TargetsTotal: len(rows),
		PitchReasons: map[string]int64{},
	}

	e.obs.Metrics.PipelineActive.WithLabelValues("screen").Set(1)
	defer e.obs.Metrics.PipelineActive.WithLabelValues("screen").Set(0)

	for _, row := range rows {
		res, err := e.screenTarget(ctx, row, domain, summary)
		if err != nil {
			e.closeSharders()
			return summary, err
		}
		summary.Results = append(summary.Results, res)
		summary.Passed += res.Passed
		summary.Pitched += res.Pitched
		e.obs.Metrics.TargetsProcessed.WithLabelValues("screen", res.Status).Inc()
	}

	if err := e.closeSharders(); err != nil {
		return summary, err
	}
	summary.FinishedAtUTC = e.clock().UTC().Format(time.RFC3339)

	runDir := e.roots.RunLedgerDir(e.opts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return summary, err
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(runDir, "yellow_screen_summary.json"), summary); err != nil {
		return summary, err
	}
	e.obs.Log.Info("screening complete",
		"run_id", summary.RunID, "domain", summary.Domain,
		"passed", summary.Passed, "pitched", summary.Pitched)
	return summary, nil
}

func (e *Engine) screenTarget(ctx context.Context, row catalog.QueueRow, domain Domain, summary *Summary) (TargetResult, error) {
	_, span := e.obs.StartSpan(ctx, "screen.target")
	defer span.End()

	res := TargetResult{TargetID: row.ID, Status: "ok"}

	if skip, reason := e.signoffBlocks(row); skip {
		e.pitch(summary, &res, row, "", map[string]any{"target_id": row.ID}, reason, "")
		res.Status = "skipped"
		res.Reason = reason
		return res, nil
	}

	for _, pool := range []string{catalog.PoolPermissive, catalog.PoolCopyleft, catalog.PoolQuarantine} {
		dir := e.roots.RawTargetDir("yellow", pool, row.ID)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		rc := &RecordContext{Row: row, Pool: pool}
		if pre, ok := domain.(Preflighter); ok {
			if err := pre.Preflight(rc); err != nil {
				e.pitch(summary, &res, row, "", map[string]any{"target_id": row.ID},
					"domain_preflight_failed", err.Error())
				res.Status = "skipped"
				res.Reason = "domain_preflight_failed: " + err.Error()
				return res, nil
			}
		}
		files, err := recordFiles(dir)
		if err != nil {
			return res, err
		}
		for _, file := range files {
			res.Files++
			rc.SourceFile = file
			if err := e.screenFile(file, rc, domain, summary, &res); err != nil {
				if _, fatal := err.(*contract.ViolationError); fatal {
					return res, err
				}
				res.Status = "error"
				res.Reason = err.Error()
				e.obs.Log.Error("screen file", "target_id", row.ID, "file", file, "error", err)
			}
		}
	}

	done := map[string]any{
		"target_id":    row.ID,
		"run_id":       e.opts.RunID,
		"status":       res.Status,
		"passed":       res.Passed,
		"pitched":      res.Pitched,
		"files":        res.Files,
		"completed_at": e.clock().UTC().Format(time.RFC3339),
	}
	dir := e.roots.ManifestDir(row.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, err
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(dir, "yellow_screen_done.json"), done); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) screenFile(file string, rc *RecordContext, domain Domain, summary *Summary, res *TargetResult) error {
	records, err := ledger.ReadJSONL(file)
	if err != nil {
		return err
	}
	for i, raw := range records {
		dec := domain.FilterRecord(raw, rc)
		if !dec.Allow {
			e.pitch(summary, res, rc.Row, dec.Text, raw, dec.Reason, "")
			continue
		}
		if reason, detail := e.licenseBlocks(rc, dec); reason != "" {
			e.pitch(summary, res, rc.Row, dec.Text, raw, reason, detail)
			continue
		}
		if e.detector != nil {
			key := dec.Text
			if dk, ok := domain.(DedupeKeyer); ok {
				if k := dk.DedupeKey(raw, dec); k != "" {
					key = k
				}
			}
			if key != "" {
				hit := e.detector.Query(key)
				if hit.IsDuplicate {
					e.pitch(summary, res, rc.Row, dec.Text, raw, "near_duplicate", hit.MatchID)
					continue
				}
				docID := fmt.Sprintf("%s:%s:%d", rc.Row.ID, filepath.Base(file), i)
				if err := e.detector.Add(docID, key); err != nil {
					e.obs.Log.Warn("index document", "doc_id", docID, "error", err)
				}
			}
		}
		out, err := domain.TransformRecord(raw, dec, rc)
		if err != nil {
			e.pitch(summary, res, rc.Row, dec.Text, raw, "transform_failed", err.Error())
			continue
		}
		if err := e.validator.Validate(out); err != nil {
			return err
		}
		sharder, err := e.sharderFor(rc.Pool)
		if err != nil {
			return err
		}
		if err := sharder.Append(out); err != nil {
			return err
		}
		passedRow := map[string]any{
			"target_id":   rc.Row.ID,
			"pool":        rc.Pool,
			"row_id":      out["row_id"],
			"source_file": filepath.Base(file),
			"passed_at":   e.clock().UTC().Format(time.RFC3339),
		}
		if err := ledger.AppendJSONL(filepath.Join(e.roots.LedgerRoot, "yellow_passed.jsonl"), passedRow); err != nil {
			return err
		}
		res.Passed++
	}
	return nil
}

// pitch records one rejected record: a full row in the pitch ledger and a
// bounded, truncated sample in the pitch file.
func (e *Engine) pitch(summary *Summary, res *TargetResult, row catalog.QueueRow,
	text string, raw map[string]any, reason, detail string) {

	res.Pitched++
	summary.PitchReasons[reason]++

	entry := map[string]any{
		"target_id":  row.ID,
		"reason":     reason,
		"pitched_at": e.clock().UTC().Format(time.RFC3339),
	}
	if detail != "" {
		entry["detail"] = detail
	}
	if err := ledger.AppendJSONL(filepath.Join(e.roots.LedgerRoot, "yellow_pitched.jsonl"), entry); err != nil {
		e.obs.Log.Warn("append pitch ledger", "error", err)
	}

	if e.sampleCounts[reason] >= e.opts.PitchSampleLimit {
		return
	}
	e.sampleCounts[reason]++
	if text == "" {
		if t, ok := raw["text"].(string); ok {
			text = t
		}
	}
	if len(text) > e.opts.PitchTextLimit {
		cut := e.opts.PitchTextLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	sample := map[string]any{
		"target_id": row.ID,
		"reason":    reason,
		"text":      text,
	}
	if detail != "" {
		sample["detail"] = detail
	}
	if err := os.MkdirAll(e.roots.PitchesRoot, 0o755); err != nil {
		e.obs.Log.Warn("create pitches dir", "error", err)
		return
	}
	if err := ledger.AppendJSONL(filepath.Join(e.roots.PitchesRoot, "yellow_pitch.jsonl"), sample); err != nil {
		e.obs.Log.Warn("append pitch sample", "error", err)
	}
}

// licenseBlocks applies the record-level license allowlist. Targets routed
// record_level carry their licensing per record, so a missing declaration
// is itself disqualifying.
func (e *Engine) licenseBlocks(rc *RecordContext, dec FilterDecision) (reason, detail string) {
	if len(e.opts.LicenseAllowlist) == 0 {
		return "", ""
	}
	if dec.LicenseSPDX == "" {
		if rc.Row.LicenseProfile == catalog.ProfileRecordLevel {
			return "missing_record_license", ""
		}
		return "", ""
	}
	for _, allowed := range e.opts.LicenseAllowlist {
		if strings.EqualFold(allowed, dec.LicenseSPDX) {
			return "", ""
		}
	}
	return "license_not_allowed", dec.LicenseSPDX
}

func (e *Engine) signoffBlocks(row catalog.QueueRow) (bool, string) {
	if !e.opts.RequireYellowSignoff || row.AllowWithoutSignoff {
		return false, ""
	}
	signoff, err := catalog.LoadSignoff(row.ManifestDir)
	if err != nil || signoff == nil {
		return true, "yellow_signoff_missing"
	}
	if signoff.Status == catalog.SignoffRejected {
		return true, "yellow_signoff_rejected"
	}
	if !signoff.Approved() {
		return true, "yellow_signoff_missing"
	}
	if row.SignoffIsStale {
		return true, "yellow_signoff_stale"
	}
	return false, ""
}

func (e *Engine) sharderFor(pool string) (*Sharder, error) {
	if s, ok := e.sharders[pool]; ok {
		return s, nil
	}
	s, err := NewSharder(e.roots.ShardDir(pool), e.opts.Shards)
	if err != nil {
		return nil, err
	}
	e.sharders[pool] = s
	return s, nil
}

func (e *Engine) closeSharders() error {
	var firstErr error
	for _, s := range e.sharders {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recordFiles lists the screenable record files for one target pool dir:
// JSONL (plain or compressed) at the top level and inside saved split_*
// dataset directories.
func recordFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			base := filepath.Base(path)
			if path != dir && !strings.HasPrefix(base, "split_") && base != "hf_dataset" {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".jsonl") ||
			strings.HasSuffix(name, ".jsonl.gz") ||
			strings.HasSuffix(name, ".jsonl.zst") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
