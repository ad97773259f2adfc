package domains

import (
	"fmt"
	"time"

	"github.com/curatorlabs/datacollector/pkg/normalize"
	"github.com/curatorlabs/datacollector/pkg/screen"
)

// Standard is the fallback domain: extract text and any record-level
// license, then emit the canonical record with no subject-specific
// heuristics.
type Standard struct{}

// Name implements screen.Domain.
func (Standard) Name() string { return "standard" }

// FilterRecord implements screen.Domain.
func (Standard) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	return baseFilter(raw)
}

// TransformRecord implements screen.Domain.
func (Standard) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	return buildRecord(raw, dec, rc)
}

// baseFilter extracts the record text and license and rejects records
// with no usable body.
func baseFilter(raw map[string]any) screen.FilterDecision {
	text := extractText(raw)
	if text == "" {
		return screen.FilterDecision{Reason: "no_text_field"}
	}
	if normalize.CollapseWhitespace(text) == "" {
		return screen.FilterDecision{Reason: "empty_text", Text: text}
	}
	return screen.FilterDecision{Allow: true, Text: text, LicenseSPDX: recordLicense(raw)}
}

// recordLicense reads a record-level license declaration, if present.
func recordLicense(raw map[string]any) string {
	for _, key := range []string{"license_spdx", "license"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// extractText finds the record body under the usual field names.
func extractText(raw map[string]any) string {
	for _, key := range []string{"text", "content", "body", "sentence", "question"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// buildRecord assembles the canonical OutputRecord from a passing decision.
func buildRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	text := dec.Text
	contentSHA := normalize.ContentSHA256(text)
	normalizedSHA := normalize.EvidenceSHA256(text)

	spdx := dec.LicenseSPDX
	if spdx == "" {
		spdx = rc.Row.ResolvedSPDX
	}
	if spdx == "" {
		spdx = "NOASSERTION"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	record := map[string]any{
		"dataset_id":        rc.Row.ID,
		"split":             stringField(raw, "split", "train"),
		"config":            stringField(raw, "config", "default"),
		"row_id":            rowID(raw, contentSHA),
		"license_spdx":      spdx,
		"license_profile":   rc.Row.LicenseProfile,
		"source_urls":       sourceURLs(rc),
		"reviewer_notes":    stringField(raw, "reviewer_notes", ""),
		"content_sha256":    contentSHA,
		"normalized_sha256": normalizedSHA,
		"pool":              rc.Pool,
		"pipeline":          "yellow_screen",
		"target_name":       rc.Row.Name,
		"timestamp_created": now,
		"timestamp_updated": now,
		"text":              text,
		"source": map[string]any{
			"target_id":        rc.Row.ID,
			"origin":           rc.Row.Download.Strategy,
			"source_url":       firstURL(rc),
			"license_spdx":     spdx,
			"license_profile":  rc.Row.LicenseProfile,
			"license_evidence": rc.Row.LicenseEvidenceURL,
			"retrieved_at_utc": now,
		},
		"routing": map[string]any{
			"subject":     rc.Row.RoutingSubject,
			"domain":      rc.Row.RoutingDomain,
			"category":    rc.Row.RoutingCategory,
			"level":       rc.Row.RoutingLevel,
			"granularity": rc.Row.RoutingGranularity,
			"confidence":  rc.Row.RoutingConfidence,
			"reason":      rc.Row.RoutingReason,
		},
		"hash": map[string]any{
			"content_sha256":    contentSHA,
			"normalized_sha256": normalizedSHA,
		},
	}
	for k, v := range dec.Extra {
		if _, taken := record[k]; !taken {
			record[k] = v
		}
	}
	return record, nil
}

func stringField(raw map[string]any, key, fallback string) string {
	if v, ok := raw[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func rowID(raw map[string]any, contentSHA string) string {
	for _, key := range []string{"row_id", "id", "uid"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
		if v, ok := raw[key].(float64); ok {
			return fmt.Sprintf("%.0f", v)
		}
	}
	return contentSHA[:16]
}

func sourceURLs(rc *screen.RecordContext) []string {
	urls := rc.Row.Download.AllURLs()
	if urls == nil {
		urls = []string{}
	}
	return urls
}

func firstURL(rc *screen.RecordContext) string {
	if urls := rc.Row.Download.AllURLs(); len(urls) > 0 {
		return urls[0]
	}
	return ""
}
