package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/curatorlabs/datacollector/pkg/ledger"
)

// Buckets a classification may produce.
const (
	BucketGreen   = "GREEN"
	BucketYellow  = "YELLOW"
	BucketRed     = "RED"
	BucketUnknown = "UNKNOWN"
)

// QueueRow is the flattened per-target evaluation written to the stage-1
// queues and consumed by acquire and the yellow screen.
type QueueRow struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Bucket                 string   `json:"bucket"`
	LicenseProfile         string   `json:"license_profile"`
	ResolvedSPDX           string   `json:"resolved_spdx"`
	ResolvedSPDXConfidence float64  `json:"resolved_spdx_confidence"`
	RestrictionHits        []string `json:"restriction_hits,omitempty"`
	LicenseEvidenceURL     string   `json:"license_evidence_url,omitempty"`
	ManifestDir            string   `json:"manifest_dir"`
	Download               Download `json:"download"`
	Enabled                bool     `json:"enabled"`

	ContentChecks       []string          `json:"content_checks,omitempty"`
	ContentCheckActions map[string]string `json:"content_check_actions,omitempty"`

	RoutingSubject     string  `json:"routing_subject,omitempty"`
	RoutingDomain      string  `json:"routing_domain,omitempty"`
	RoutingCategory    string  `json:"routing_category,omitempty"`
	RoutingLevel       string  `json:"routing_level,omitempty"`
	RoutingGranularity string  `json:"routing_granularity,omitempty"`
	RoutingConfidence  float64 `json:"routing_confidence,omitempty"`
	RoutingReason      string  `json:"routing_reason,omitempty"`

	SignoffRawSHA256        string `json:"signoff_raw_sha256,omitempty"`
	SignoffNormalizedSHA256 string `json:"signoff_normalized_sha256,omitempty"`
	SignoffIsStale          bool   `json:"signoff_is_stale,omitempty"`

	OutputPool   string   `json:"output_pool"`
	Signals      []string `json:"signals,omitempty"`
	BucketReason string   `json:"bucket_reason"`

	AllowWithoutSignoff bool `json:"allow_without_signoff,omitempty"`
}

// ReadQueue loads a JSONL queue file, preserving row order.
func ReadQueue(path string) ([]QueueRow, error) {
	var rows []QueueRow
	err := ledger.DecodeJSONL(path, func(raw json.RawMessage) error {
		var row QueueRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("queue row: %w", err)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteQueue writes the queue atomically, one row per line.
func WriteQueue(path string, rows []QueueRow) error {
	return ledger.WriteJSONL(path, rows)
}
