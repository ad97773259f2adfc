package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeRecord() map[string]any {
	return map[string]any{
		"dataset_id":        "acme/corpus",
		"split":             "train",
		"config":            "default",
		"row_id":            "r1",
		"license_spdx":      "CC-BY-4.0",
		"license_profile":   "permissive",
		"source_urls":       []string{"https://data.example/corpus.jsonl"},
		"reviewer_notes":    "",
		"content_sha256":    "aa11",
		"normalized_sha256": "bb22",
		"pool":              "permissive",
		"pipeline":          "yellow_screen",
		"target_name":       "Acme Corpus",
		"timestamp_created": "2026-08-25T00:00:00Z",
		"timestamp_updated": "2026-08-25T00:00:00Z",
		"text":              "A record body.",
		"source": map[string]any{
			"target_id":        "acme/corpus",
			"origin":           "http",
			"source_url":       "https://data.example/corpus.jsonl",
			"license_spdx":     "CC-BY-4.0",
			"license_profile":  "permissive",
			"license_evidence": "https://data.example/LICENSE",
			"retrieved_at_utc": "2026-08-25T00:00:00Z",
		},
		"routing": map[string]any{"subject": "general"},
		"hash": map[string]any{
			"content_sha256":    "aa11",
			"normalized_sha256": "bb22",
		},
	}
}

// TestValidate_CompleteRecord accepts the canonical record shape, with or
// without extra fields.
func TestValidate_CompleteRecord(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.Validate(completeRecord()))

	extra := completeRecord()
	extra["cas_numbers"] = []string{"7732-18-5"}
	assert.NoError(t, v.Validate(extra))
}

// TestValidate_MissingFields rejects records dropping any required field,
// at the top level or inside nested objects.
func TestValidate_MissingFields(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	for _, field := range []string{"dataset_id", "row_id", "text", "source", "hash"} {
		rec := completeRecord()
		delete(rec, field)
		verr := new(ViolationError)
		assert.ErrorAs(t, v.Validate(rec), &verr, field)
	}

	rec := completeRecord()
	delete(rec["source"].(map[string]any), "retrieved_at_utc")
	verr := new(ViolationError)
	assert.ErrorAs(t, v.Validate(rec), &verr)
}

// TestValidate_WrongTypes rejects well-shaped records with mistyped values.
func TestValidate_WrongTypes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	rec := completeRecord()
	rec["source_urls"] = "https://data.example/corpus.jsonl"
	verr := new(ViolationError)
	require.ErrorAs(t, v.Validate(rec), &verr)
	assert.Contains(t, verr.Error(), "output contract violation")

	rec = completeRecord()
	rec["row_id"] = 42
	assert.ErrorAs(t, v.Validate(rec), &verr)
}

// TestValidate_StructInput validates struct-typed callers through the same
// JSON round trip as map-typed ones.
func TestValidate_StructInput(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	type partial struct {
		DatasetID string `json:"dataset_id"`
	}
	verr := new(ViolationError)
	assert.ErrorAs(t, v.Validate(partial{DatasetID: "acme/corpus"}), &verr)

	assert.ErrorAs(t, v.Validate(map[string]any{"bad": make(chan int)}), &verr)
}
