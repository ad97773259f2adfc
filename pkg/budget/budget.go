// Package budget implements fail-closed resource accounting for acquisition
// runs. A single RunBudget is shared by every worker in a run; each target
// additionally owns an Enforcer carrying its per-file and per-target caps.
// Breaches are reported as structured Violations, never as panics, so a
// too-large target degrades to one failed result instead of killing the run.
package budget

import (
	"fmt"
	"sync"
)

// LimitType identifies which cap a violation breached.
type LimitType string

const (
	LimitFilesPerTarget LimitType = "files_per_target"
	LimitBytesPerFile   LimitType = "bytes_per_file"
	LimitBytesPerTarget LimitType = "bytes_per_target"
	LimitRunByteBudget  LimitType = "run_byte_budget"
)

// Violation describes a breached limit. It carries enough detail for the
// acquire result (`limit_exceeded`) and the run summary.
type Violation struct {
	LimitType LimitType `json:"limit_type"`
	Limit     int64     `json:"limit"`
	Observed  int64     `json:"observed"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("limit_exceeded: %s (%d > %d)", v.LimitType, v.Observed, v.Limit)
}

// RunBudget is the run-wide byte budget shared across workers.
// A zero Limit means unlimited.
type RunBudget struct {
	mu        sync.Mutex
	limit     int64
	bytesSeen int64
}

// NewRunBudget creates a run budget with the given byte limit (0 = unlimited).
func NewRunBudget(limit int64) *RunBudget {
	return &RunBudget{limit: limit}
}

// Add records n bytes against the run budget. On breach the bytes are still
// counted (the data already moved) and a Violation is returned.
func (b *RunBudget) Add(n int64) *Violation {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytesSeen += n
	if b.limit > 0 && b.bytesSeen > b.limit {
		return &Violation{LimitType: LimitRunByteBudget, Limit: b.limit, Observed: b.bytesSeen}
	}
	return nil
}

// CheckHint verifies a size hint would fit before any bytes move.
func (b *RunBudget) CheckHint(hint int64) *Violation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && hint > 0 && b.bytesSeen+hint > b.limit {
		return &Violation{LimitType: LimitRunByteBudget, Limit: b.limit, Observed: b.bytesSeen + hint}
	}
	return nil
}

// Exhausted reports whether the budget is already spent. The scheduler checks
// this before submitting more targets.
func (b *RunBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit > 0 && b.bytesSeen >= b.limit
}

// BytesSeen returns the bytes recorded so far.
func (b *RunBudget) BytesSeen() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesSeen
}

// Limit returns the configured run limit (0 = unlimited).
func (b *RunBudget) Limit() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

// Enforcer tracks one target's consumption against per-file, per-target and
// run-level caps. It is owned by a single worker and needs no locking of its
// own; only the embedded RunBudget is shared.
type Enforcer struct {
	FilesSeen int64
	BytesSeen int64
	FileBytes int64 // bytes of the file currently being written

	LimitFiles        int64 // max files per target, 0 = unlimited
	MaxBytesPerTarget int64 // 0 = unlimited
	MaxBytesPerFile   int64 // 0 = unlimited

	Run *RunBudget // may be nil
}

// NewEnforcer builds a per-target enforcer bound to the shared run budget.
func NewEnforcer(limitFiles, maxBytesPerTarget, maxBytesPerFile int64, run *RunBudget) *Enforcer {
	return &Enforcer{
		LimitFiles:        limitFiles,
		MaxBytesPerTarget: maxBytesPerTarget,
		MaxBytesPerFile:   maxBytesPerFile,
		Run:               run,
	}
}

// StartFile accounts for a new file and checks the file-count cap.
func (e *Enforcer) StartFile() *Violation {
	e.FilesSeen++
	e.FileBytes = 0
	if e.LimitFiles > 0 && e.FilesSeen > e.LimitFiles {
		return &Violation{LimitType: LimitFilesPerTarget, Limit: e.LimitFiles, Observed: e.FilesSeen}
	}
	return nil
}

// SeedFile sets the current file's byte count to an already-present prefix,
// so a resumed download is capped on the final file size rather than just
// the bytes fetched this run.
func (e *Enforcer) SeedFile(prefix int64) {
	if prefix < 0 {
		prefix = 0
	}
	e.FileBytes = prefix
}

// CheckSizeHint verifies an announced size against every byte cap before the
// download begins. A zero or negative hint is treated as unknown.
func (e *Enforcer) CheckSizeHint(hint int64) *Violation {
	if hint <= 0 {
		return nil
	}
	if e.MaxBytesPerFile > 0 && hint > e.MaxBytesPerFile {
		return &Violation{LimitType: LimitBytesPerFile, Limit: e.MaxBytesPerFile, Observed: hint}
	}
	if e.MaxBytesPerTarget > 0 && e.BytesSeen+hint > e.MaxBytesPerTarget {
		return &Violation{LimitType: LimitBytesPerTarget, Limit: e.MaxBytesPerTarget, Observed: e.BytesSeen + hint}
	}
	if e.Run != nil {
		if v := e.Run.CheckHint(hint); v != nil {
			return v
		}
	}
	return nil
}

// CheckRemaining verifies the target and run budgets have headroom at all.
func (e *Enforcer) CheckRemaining() *Violation {
	if e.MaxBytesPerTarget > 0 && e.BytesSeen >= e.MaxBytesPerTarget {
		return &Violation{LimitType: LimitBytesPerTarget, Limit: e.MaxBytesPerTarget, Observed: e.BytesSeen}
	}
	if e.Run != nil && e.Run.Exhausted() {
		return &Violation{LimitType: LimitRunByteBudget, Limit: e.Run.Limit(), Observed: e.Run.BytesSeen()}
	}
	return nil
}

// RecordBytes accounts n written bytes against every byte cap. The first
// breached cap wins; per-file is checked against the cumulative size of the
// file in progress, so chunked writes trip the cap too.
func (e *Enforcer) RecordBytes(n int64) *Violation {
	e.BytesSeen += n
	e.FileBytes += n
	if e.MaxBytesPerFile > 0 && e.FileBytes > e.MaxBytesPerFile {
		return &Violation{LimitType: LimitBytesPerFile, Limit: e.MaxBytesPerFile, Observed: e.FileBytes}
	}
	if e.MaxBytesPerTarget > 0 && e.BytesSeen > e.MaxBytesPerTarget {
		return &Violation{LimitType: LimitBytesPerTarget, Limit: e.MaxBytesPerTarget, Observed: e.BytesSeen}
	}
	if e.Run != nil {
		if v := e.Run.Add(n); v != nil {
			return v
		}
	}
	return nil
}
