// Package layout centralizes the on-disk tree every stage reads and writes.
// All paths hang off a dataset root unless individually overridden:
//
//	raw/{green|yellow}/{permissive|copyleft|quarantine}/<tid>/…
//	screened_yellow/<pool>/shards/
//	_manifests/<tid>/…
//	_queues/{green_download,yellow_pipeline,red_rejected}.jsonl
//	_ledger/<run_id>/…
//	_pitches/
//	_logs/
package layout

import (
	"path/filepath"

	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// Roots holds the resolved stage roots.
type Roots struct {
	DatasetRoot   string
	RawRoot       string
	ManifestsRoot string
	QueuesRoot    string
	LedgerRoot    string
	PitchesRoot   string
	LogsRoot      string
	ScreenedRoot  string
}

// FromDatasetRoot derives the conventional tree, honoring any overrides
// already set on r.
func FromDatasetRoot(datasetRoot string, r Roots) Roots {
	r.DatasetRoot = datasetRoot
	if r.RawRoot == "" {
		r.RawRoot = filepath.Join(datasetRoot, "raw")
	}
	if r.ManifestsRoot == "" {
		r.ManifestsRoot = filepath.Join(datasetRoot, "_manifests")
	}
	if r.QueuesRoot == "" {
		r.QueuesRoot = filepath.Join(datasetRoot, "_queues")
	}
	if r.LedgerRoot == "" {
		r.LedgerRoot = filepath.Join(datasetRoot, "_ledger")
	}
	if r.PitchesRoot == "" {
		r.PitchesRoot = filepath.Join(datasetRoot, "_pitches")
	}
	if r.LogsRoot == "" {
		r.LogsRoot = filepath.Join(datasetRoot, "_logs")
	}
	if r.ScreenedRoot == "" {
		r.ScreenedRoot = filepath.Join(datasetRoot, "screened_yellow")
	}
	return r
}

// ManifestDir returns the per-target manifest directory.
func (r Roots) ManifestDir(targetID string) string {
	return filepath.Join(r.ManifestsRoot, safepath.SanitizeID(targetID))
}

// QueuePath maps a queue name to its JSONL file.
func (r Roots) QueuePath(name string) string {
	return filepath.Join(r.QueuesRoot, name+".jsonl")
}

// RawTargetDir returns the payload directory for one target.
func (r Roots) RawTargetDir(bucket, pool, targetID string) string {
	return filepath.Join(r.RawRoot, bucket, pool, safepath.SanitizeID(targetID))
}

// RunLedgerDir returns the per-run ledger directory.
func (r Roots) RunLedgerDir(runID string) string {
	return filepath.Join(r.LedgerRoot, runID)
}

// ShardDir returns the screened-output shard directory for a pool.
func (r Roots) ShardDir(pool string) string {
	return filepath.Join(r.ScreenedRoot, pool, "shards")
}

// Queue file names.
const (
	QueueGreen  = "green_download"
	QueueYellow = "yellow_pipeline"
	QueueRed    = "red_rejected"
)
