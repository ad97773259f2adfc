// Package acquire implements stage 2: draining a classification queue and
// fetching each target's payload with its declared strategy, under per-file,
// per-target, and run-wide byte budgets. Results are values, never panics;
// a failed target degrades to one error row in the run summary.
package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curatorlabs/datacollector/pkg/archive"
	"github.com/curatorlabs/datacollector/pkg/budget"
	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/checkpoint"
	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/ledger"
	"github.com/curatorlabs/datacollector/pkg/netguard"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/ratelimit"
	"github.com/curatorlabs/datacollector/pkg/retry"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// Options configures one acquisition run.
type Options struct {
	Bucket  string // green or yellow
	Execute bool   // false = dry run, nothing written
	Workers int

	Overwrite bool
	Resume    bool
	Strict    bool

	VerifySHA256    bool
	VerifyZenodoMD5 bool
	ExpectData      bool

	LimitTargets      int
	LimitFiles        int64
	MaxBytesPerTarget int64
	MaxBytesPerFile   int64
	RunByteBudget     int64

	Retry retry.Policy

	AllowNonGlobalHosts     bool
	InternalMirrorAllowlist []string

	RunID string
}

// Request is the unit of work a strategy handler receives.
type Request struct {
	Row      catalog.QueueRow
	OutDir   string
	Enforcer *budget.Enforcer
	Guard    *netguard.Guard
	Limiter  ratelimit.Limiter
	Opts     Options
	Obs      *observability.Obs
}

// Handler downloads one target's payload into req.OutDir.
type Handler interface {
	Fetch(ctx context.Context, req *Request) []Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) []Result

// Fetch implements Handler.
func (f HandlerFunc) Fetch(ctx context.Context, req *Request) []Result { return f(ctx, req) }

// Runner drains one queue through the registered strategy handlers.
type Runner struct {
	roots    layout.Roots
	handlers map[string]Handler
	opts     Options
	guard    *netguard.Guard
	limiter  ratelimit.Limiter
	run      *budget.RunBudget
	obs      *observability.Obs
	clock    func() time.Time
}

// NewRunner wires an acquisition run. handlers maps strategy names to
// implementations; anything absent resolves to noop.
func NewRunner(roots layout.Roots, handlers map[string]Handler, limiter ratelimit.Limiter, opts Options, obs *observability.Obs) *Runner {
	if obs == nil {
		obs = observability.Noop()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default().FromEnv()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Runner{
		roots:    roots,
		handlers: handlers,
		opts:     opts,
		guard:    netguard.New(opts.InternalMirrorAllowlist, opts.AllowNonGlobalHosts),
		limiter:  limiter,
		run:      budget.NewRunBudget(opts.RunByteBudget),
		obs:      obs,
		clock:    time.Now,
	}
}

// Summary is the run-level acquisition report.
type Summary struct {
	RunID         string          `json:"run_id"`
	Bucket        string          `json:"bucket"`
	Execute       bool            `json:"execute"`
	StartedAtUTC  string          `json:"started_at_utc"`
	FinishedAtUTC string          `json:"finished_at_utc"`
	TargetsTotal  int             `json:"targets_total"`
	Counts        map[string]int  `json:"counts"`
	BytesTotal    int64           `json:"bytes_total"`
	Outcomes      []TargetOutcome `json:"outcomes"`
	FailedTargets []string        `json:"failed_targets,omitempty"`
	BudgetStopped bool            `json:"budget_stopped,omitempty"`
}

// Run drains the queue at queuePath. Targets are dispatched through a
// bounded worker pool; the results slice preserves queue order regardless
// of completion order. Submission stops once the run byte budget is spent,
// in-flight targets run to completion.
func (r *Runner) Run(ctx context.Context, queuePath string) (*Summary, error) {
	ctx, span := r.obs.StartSpan(ctx, "acquire.run")
	defer span.End()

	rows, err := catalog.ReadQueue(queuePath)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if r.opts.LimitTargets > 0 && len(rows) > r.opts.LimitTargets {
		rows = rows[:r.opts.LimitTargets]
	}

	summary := &Summary{
		RunID:        r.opts.RunID,
		Bucket:       r.opts.Bucket,
		Execute:      r.opts.Execute,
		StartedAtUTC: r.clock().UTC().Format(time.RFC3339),
		TargetsTotal: len(rows),
		Counts:       map[string]int{},
	}

	checkpointPath := filepath.Join(r.roots.LedgerRoot, fmt.Sprintf("acquire_%s_checkpoint.json", r.opts.Bucket))
	var state *checkpoint.State
	if r.opts.Resume {
		state = checkpoint.Load(checkpointPath, r.opts.RunID, "acquire")
	} else {
		state = checkpoint.NewState(r.opts.RunID, "acquire")
	}

	r.obs.Metrics.PipelineActive.WithLabelValues("acquire").Set(1)
	defer r.obs.Metrics.PipelineActive.WithLabelValues("acquire").Set(0)

	outcomes := make([]TargetOutcome, len(rows))

	type job struct {
		index int
		row   catalog.QueueRow
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcomes[j.index] = r.processTarget(ctx, j.row)
			}
		}()
	}

	budgetStopped := false
	for i, row := range rows {
		if r.run.Exhausted() {
			budgetStopped = true
			for k := i; k < len(rows); k++ {
				outcomes[k] = TargetOutcome{
					TargetID: rows[k].ID, Strategy: rows[k].Download.Strategy,
					Status: StatusError, Skipped: true, Reason: "run_byte_budget exhausted",
				}
			}
			break
		}
		if r.opts.Resume && state.Done(row.ID) {
			outcomes[i] = TargetOutcome{
				TargetID: row.ID, Strategy: row.Download.Strategy,
				Status: StatusNoop, Skipped: true, Reason: "already completed",
			}
			continue
		}
		jobs <- job{index: i, row: row}
	}
	close(jobs)
	wg.Wait()

	for _, out := range outcomes {
		summary.Counts[out.Status]++
		for _, res := range out.Results {
			summary.BytesTotal += res.ContentLength
		}
		if out.Status == StatusError {
			summary.FailedTargets = append(summary.FailedTargets, out.TargetID)
		}
		if !out.Skipped && out.Status != StatusError {
			state.RecordTarget(out.TargetID, out.Status)
		}
	}
	summary.Outcomes = outcomes
	summary.BudgetStopped = budgetStopped
	summary.FinishedAtUTC = r.clock().UTC().Format(time.RFC3339)

	if r.opts.Execute {
		if err := os.MkdirAll(r.roots.LedgerRoot, 0o755); err != nil {
			return summary, err
		}
		if err := state.Save(checkpointPath); err != nil {
			r.obs.Log.Warn("save checkpoint", "error", err)
		}
	}
	if err := r.writeSummary(summary); err != nil {
		return summary, err
	}
	r.obs.Log.Info("acquisition complete",
		"run_id", summary.RunID, "bucket", summary.Bucket,
		"ok", summary.Counts[StatusOK], "noop", summary.Counts[StatusNoop],
		"error", summary.Counts[StatusError], "bytes", summary.BytesTotal)
	return summary, nil
}

func (r *Runner) processTarget(ctx context.Context, row catalog.QueueRow) TargetOutcome {
	ctx, span := r.obs.StartSpan(ctx, "acquire.target")
	defer span.End()
	started := r.clock()

	pool := row.OutputPool
	if pool == "" {
		pool = catalog.PoolForProfile(row.LicenseProfile)
	}
	outDir := r.roots.RawTargetDir(r.opts.Bucket, pool, row.ID)

	out := TargetOutcome{
		TargetID: row.ID,
		Strategy: row.Download.Strategy,
		OutDir:   outDir,
		Pool:     pool,
	}

	handler, ok := r.handlers[row.Download.Strategy]
	if !ok || row.Download.Strategy == "none" {
		out.Results = []Result{Noop("unsupported: " + row.Download.Strategy)}
		out.Status = StatusNoop
		out.ElapsedMS = r.clock().Sub(started).Milliseconds()
		r.obs.Metrics.TargetsProcessed.WithLabelValues("acquire", StatusNoop).Inc()
		return out
	}

	if r.opts.Execute {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			out.Results = []Result{Errorf("", ErrDownloadFailed, err.Error())}
			out.Status = StatusError
			return out
		}
	}

	maxPerTarget := r.opts.MaxBytesPerTarget
	if row.Download.MaxBytes > 0 {
		maxPerTarget = row.Download.MaxBytes
	}
	req := &Request{
		Row:      row,
		OutDir:   outDir,
		Enforcer: budget.NewEnforcer(r.opts.LimitFiles, maxPerTarget, r.opts.MaxBytesPerFile, r.run),
		Guard:    r.guard,
		Limiter:  r.limiter,
		Opts:     r.opts,
		Obs:      r.obs,
	}

	results := handler.Fetch(ctx, req)
	if len(results) == 0 {
		results = []Result{Errorf("", ErrNoResults, "handler returned no results")}
	}
	out.Results = results
	out.Status = AggregateStatus(results)
	out.ElapsedMS = r.clock().Sub(started).Milliseconds()

	for _, res := range results {
		if res.Status == StatusOK && !res.Cached {
			r.obs.Metrics.FilesDownloaded.WithLabelValues("acquire", row.Download.Strategy).Inc()
			r.obs.Metrics.BytesDownloaded.WithLabelValues("acquire").Add(float64(res.ContentLength))
		}
		if res.Status == StatusError {
			r.obs.Metrics.Errors.WithLabelValues("acquire", res.Error).Inc()
		}
	}
	r.obs.Metrics.TargetsProcessed.WithLabelValues("acquire", out.Status).Inc()
	r.obs.Metrics.DownloadDuration.WithLabelValues("acquire", row.Download.Strategy).
		Observe(float64(out.ElapsedMS) / 1000)

	if r.opts.Execute && out.Status != StatusError && row.Download.Unpack {
		r.unpackResults(&out)
	}
	if r.opts.Execute && out.Status != StatusError {
		r.writeDoneMarker(row, &out)
	}
	return out
}

// unpackResults extracts each fetched archive into <outDir>/extracted. A
// guard failure poisons the whole target: a hostile archive means the
// payload cannot be trusted.
func (r *Runner) unpackResults(out *TargetOutcome) {
	dest := filepath.Join(out.OutDir, "extracted")
	for _, res := range out.Results {
		if res.Status != StatusOK || !archive.Supported(res.Path) {
			continue
		}
		if err := archive.SafeExtract(res.Path, dest, archive.DefaultLimits()); err != nil {
			r.obs.Log.Error("unpack archive", "target_id", out.TargetID, "path", res.Path, "error", err)
			r.obs.Metrics.Errors.WithLabelValues("acquire", ErrArchiveRejected).Inc()
			out.Results = append(out.Results, Errorf(res.URL, ErrArchiveRejected, err.Error()))
			out.Status = StatusError
			return
		}
	}
}

// writeDoneMarker records per-target completion under the manifest dir.
// Markers exist iff the run executed: dry runs leave no trace.
func (r *Runner) writeDoneMarker(row catalog.QueueRow, out *TargetOutcome) {
	dir := r.roots.ManifestDir(row.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.obs.Log.Warn("create manifest dir", "target_id", row.ID, "error", err)
		return
	}
	marker := map[string]any{
		"target_id":    row.ID,
		"bucket":       r.opts.Bucket,
		"status":       out.Status,
		"out_dir":      out.OutDir,
		"completed_at": r.clock().UTC().Format(time.RFC3339),
		"results":      out.Results,
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(dir, "acquire_done.json"), marker); err != nil {
		r.obs.Log.Warn("write done marker", "target_id", row.ID, "error", err)
	}
	manifest := map[string]any{
		"target_id":     row.ID,
		"strategy":      row.Download.Strategy,
		"pool":          out.Pool,
		"results":       out.Results,
		"downloaded_at": r.clock().UTC().Format(time.RFC3339),
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(dir, "download_manifest.json"), manifest); err != nil {
		r.obs.Log.Warn("write download manifest", "target_id", row.ID, "error", err)
	}
}

func (r *Runner) writeSummary(summary *Summary) error {
	if err := os.MkdirAll(r.roots.LogsRoot, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("acquire_summary_%s.json", safepath.SanitizeID(r.opts.Bucket))
	return ledger.WriteJSONAtomic(filepath.Join(r.roots.LogsRoot, name), summary)
}
