// Package checkpoint persists resumable run state and completion markers.
// The checkpoint file is the only mutable cross-stage artifact; it is always
// replaced whole via temp-rename, and a corrupt file is treated as an empty
// state so a damaged checkpoint restarts the pipeline instead of wedging it.
package checkpoint

import (
	"encoding/json"
	"os"
	"time"

	"github.com/curatorlabs/datacollector/pkg/ledger"
)

// StateVersion is the on-disk schema version.
const StateVersion = 1

// State tracks which targets a pipeline run has completed.
type State struct {
	RunID            string         `json:"run_id"`
	PipelineID       string         `json:"pipeline_id"`
	CreatedAtUTC     string         `json:"created_at_utc"`
	UpdatedAtUTC     string         `json:"updated_at_utc"`
	CompletedTargets []string       `json:"completed_targets"`
	Counts           map[string]int `json:"counts"`
	Version          int            `json:"version"`

	completed map[string]bool
}

// NewState creates a fresh state for a run.
func NewState(runID, pipelineID string) *State {
	now := time.Now().UTC().Format(time.RFC3339)
	return &State{
		RunID:            runID,
		PipelineID:       pipelineID,
		CreatedAtUTC:     now,
		UpdatedAtUTC:     now,
		CompletedTargets: []string{},
		Counts:           map[string]int{},
		Version:          StateVersion,
		completed:        map[string]bool{},
	}
}

// Load reads a checkpoint from disk. A missing or unparseable file returns an
// empty state, never an error: recovery is restart, not failure.
func Load(path, runID, pipelineID string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewState(runID, pipelineID)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil || s.Version != StateVersion {
		return NewState(runID, pipelineID)
	}
	s.completed = make(map[string]bool, len(s.CompletedTargets))
	for _, id := range s.CompletedTargets {
		s.completed[id] = true
	}
	if s.Counts == nil {
		s.Counts = map[string]int{}
	}
	return &s
}

// RecordTarget marks a target complete under a bucket count. Idempotent: a
// target id appears in CompletedTargets at most once no matter how often it
// is recorded.
func (s *State) RecordTarget(targetID, bucket string) {
	if s.completed == nil {
		s.completed = map[string]bool{}
	}
	if !s.completed[targetID] {
		s.completed[targetID] = true
		s.CompletedTargets = append(s.CompletedTargets, targetID)
		s.Counts[bucket]++
	}
	s.UpdatedAtUTC = time.Now().UTC().Format(time.RFC3339)
}

// Done reports whether a target was already completed.
func (s *State) Done(targetID string) bool {
	return s.completed[targetID]
}

// Save replaces the checkpoint file atomically.
func (s *State) Save(path string) error {
	return ledger.WriteJSONAtomic(path, s)
}
