// Package contract validates screened output records against the canonical
// OutputRecord schema. A violating record is a programmer bug in a domain
// module, not a data problem, so validation failure aborts the stage.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// outputRecordSchema is the canonical screened-record shape. Every record
// emitted to a shard must satisfy it.
const outputRecordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "dataset_id", "split", "config", "row_id",
    "license_spdx", "license_profile", "source_urls", "reviewer_notes",
    "content_sha256", "normalized_sha256", "pool", "pipeline",
    "target_name", "timestamp_created", "timestamp_updated", "text",
    "source", "routing", "hash"
  ],
  "properties": {
    "dataset_id":        {"type": "string"},
    "split":             {"type": "string"},
    "config":            {"type": "string"},
    "row_id":            {"type": "string"},
    "license_spdx":      {"type": "string"},
    "license_profile":   {"type": "string"},
    "source_urls":       {"type": "array", "items": {"type": "string"}},
    "reviewer_notes":    {"type": "string"},
    "content_sha256":    {"type": "string"},
    "normalized_sha256": {"type": "string"},
    "pool":              {"type": "string"},
    "pipeline":          {"type": "string"},
    "target_name":       {"type": "string"},
    "timestamp_created": {"type": "string"},
    "timestamp_updated": {"type": "string"},
    "text":              {"type": "string"},
    "source": {
      "type": "object",
      "required": ["target_id", "origin", "source_url", "license_spdx",
                   "license_profile", "license_evidence", "retrieved_at_utc"],
      "properties": {
        "target_id":        {"type": "string"},
        "origin":           {"type": "string"},
        "source_url":       {"type": "string"},
        "license_spdx":     {"type": "string"},
        "license_profile":  {"type": "string"},
        "license_evidence": {"type": "string"},
        "retrieved_at_utc": {"type": "string"}
      }
    },
    "routing": {"type": "object"},
    "hash": {
      "type": "object",
      "required": ["content_sha256", "normalized_sha256"],
      "properties": {
        "content_sha256":    {"type": "string"},
        "normalized_sha256": {"type": "string"}
      }
    }
  }
}`

// ViolationError marks a record that fails the output contract. The screen
// engine treats it as fatal.
type ViolationError struct {
	Detail string
}

func (e *ViolationError) Error() string {
	return "output contract violation: " + e.Detail
}

// Validator checks records against the OutputRecord schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_record.json",
		bytes.NewReader([]byte(outputRecordSchema))); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("output_record.json")
	if err != nil {
		return nil, fmt.Errorf("compile output contract: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks one record. The record is round-tripped through JSON so
// struct-typed and map-typed callers validate identically.
func (v *Validator) Validate(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return &ViolationError{Detail: "unserializable record: " + err.Error()}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ViolationError{Detail: err.Error()}
	}
	if err := v.schema.Validate(doc); err != nil {
		return &ViolationError{Detail: err.Error()}
	}
	return nil
}
