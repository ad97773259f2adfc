package classifier

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/curatorlabs/datacollector/pkg/catalog"
)

// CheckResult is the outcome of one content check for one target. Action is
// drawn from the ok < warn < quarantine < block lattice; the maximum action
// across a target's checks drives the bucket downgrade.
type CheckResult struct {
	Check  string         `json:"check"`
	Action string         `json:"action"`
	Reason string         `json:"reason,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// CheckInput is the target view a content check evaluates.
type CheckInput struct {
	Target     *catalog.Target
	Resolution Resolution
	Evidence   *EvidenceSnapshot
}

// CheckFunc is one content check.
type CheckFunc func(in CheckInput) CheckResult

// CheckRegistry maps check names to implementations. Targets reference
// checks by name; unknown names are a warning, or a hard error in strict
// mode. Names starting with "cel:" are compiled from the license map's
// cel_checks table instead.
type CheckRegistry struct {
	static map[string]CheckFunc
	cel    map[string]cel.Program
}

// NewCheckRegistry builds the registry with the built-in checks and
// compiles any CEL expressions from the license map.
func NewCheckRegistry(celChecks map[string]string) (*CheckRegistry, error) {
	r := &CheckRegistry{
		static: map[string]CheckFunc{
			"metadata_complete":  checkMetadataComplete,
			"evidence_url_https": checkEvidenceURLHTTPS,
			"license_confident":  checkLicenseConfident,
		},
		cel: map[string]cel.Program{},
	}
	if len(celChecks) == 0 {
		return r, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("publisher", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("license_profile", cel.StringType),
		cel.Variable("resolved_spdx", cel.StringType),
		cel.Variable("resolved_confidence", cel.DoubleType),
		cel.Variable("evidence_url", cel.StringType),
		cel.Variable("enabled", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel env: %w", err)
	}
	for name, expr := range celChecks {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, &catalog.ValidationError{Field: "cel_checks." + name,
				Detail: issues.Err().Error()}
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, &catalog.ValidationError{Field: "cel_checks." + name,
				Detail: err.Error()}
		}
		r.cel[name] = prog
	}
	return r, nil
}

// Known reports whether a check name resolves to an implementation.
func (r *CheckRegistry) Known(name string) bool {
	if strings.HasPrefix(name, "cel:") {
		_, ok := r.cel[strings.TrimPrefix(name, "cel:")]
		return ok
	}
	_, ok := r.static[name]
	return ok
}

// Names returns every registered check name, for strict-mode validation.
func (r *CheckRegistry) Names() map[string]bool {
	out := make(map[string]bool, len(r.static)+len(r.cel))
	for n := range r.static {
		out[n] = true
	}
	for n := range r.cel {
		out["cel:"+n] = true
	}
	return out
}

// Run evaluates one named check. Unknown checks return a warn result rather
// than an error; strict-mode rejection happens at catalog load.
func (r *CheckRegistry) Run(name string, in CheckInput) CheckResult {
	if strings.HasPrefix(name, "cel:") {
		return r.runCEL(name, strings.TrimPrefix(name, "cel:"), in)
	}
	fn, ok := r.static[name]
	if !ok {
		return CheckResult{Check: name, Action: catalog.ActionWarn,
			Reason: "unknown content check"}
	}
	out := fn(in)
	out.Check = name
	return out
}

func (r *CheckRegistry) runCEL(fullName, name string, in CheckInput) CheckResult {
	prog, ok := r.cel[name]
	if !ok {
		return CheckResult{Check: fullName, Action: catalog.ActionWarn,
			Reason: "unknown cel check"}
	}
	t := in.Target
	val, _, err := prog.Eval(map[string]any{
		"id":                  t.ID,
		"name":                t.Name,
		"publisher":           t.Publisher,
		"description":         t.Description,
		"license_profile":     t.LicenseProfile,
		"resolved_spdx":       in.Resolution.SPDX,
		"resolved_confidence": in.Resolution.Confidence,
		"evidence_url":        t.LicenseEvidence.URL,
		"enabled":             t.Enabled,
	})
	if err != nil {
		return CheckResult{Check: fullName, Action: catalog.ActionWarn,
			Reason: "cel evaluation failed", Detail: map[string]any{"error": err.Error()}}
	}
	switch v := val.Value().(type) {
	case bool:
		if v {
			return CheckResult{Check: fullName, Action: catalog.ActionOK}
		}
		return CheckResult{Check: fullName, Action: catalog.ActionWarn,
			Reason: "cel expression returned false"}
	case string:
		switch v {
		case catalog.ActionOK, catalog.ActionWarn, catalog.ActionQuarantine, catalog.ActionBlock:
			return CheckResult{Check: fullName, Action: v, Reason: "cel expression action"}
		}
		return CheckResult{Check: fullName, Action: catalog.ActionWarn,
			Reason: fmt.Sprintf("cel expression returned unknown action %q", v)}
	default:
		return CheckResult{Check: fullName, Action: catalog.ActionWarn,
			Reason: fmt.Sprintf("cel expression returned %T, want bool or action", v)}
	}
}

func checkMetadataComplete(in CheckInput) CheckResult {
	var missing []string
	if strings.TrimSpace(in.Target.Publisher) == "" {
		missing = append(missing, "publisher")
	}
	if strings.TrimSpace(in.Target.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) == 0 {
		return CheckResult{Action: catalog.ActionOK}
	}
	return CheckResult{Action: catalog.ActionWarn,
		Reason: "incomplete target metadata",
		Detail: map[string]any{"missing": missing}}
}

func checkEvidenceURLHTTPS(in CheckInput) CheckResult {
	url := in.Target.LicenseEvidence.URL
	if url == "" || strings.HasPrefix(strings.ToLower(url), "https://") {
		return CheckResult{Action: catalog.ActionOK}
	}
	return CheckResult{Action: catalog.ActionWarn,
		Reason: "license evidence served over plaintext http"}
}

func checkLicenseConfident(in CheckInput) CheckResult {
	if in.Resolution.SPDX != SPDXUnknown && in.Resolution.Confidence >= 0.9 {
		return CheckResult{Action: catalog.ActionOK}
	}
	return CheckResult{Action: catalog.ActionQuarantine,
		Reason: "license resolution below confidence bar",
		Detail: map[string]any{
			"resolved_spdx": in.Resolution.SPDX,
			"confidence":    in.Resolution.Confidence,
		}}
}

// MaxAction folds check results through the action lattice, honoring any
// per-target action overrides from content_check_actions.
func MaxAction(results []CheckResult, overrides map[string]string) (string, string) {
	maxAction := catalog.ActionOK
	source := ""
	for _, res := range results {
		action := res.Action
		if override, ok := overrides[res.Check]; ok && res.Action != catalog.ActionOK {
			action = override
		}
		if catalog.ActionRank(action) > catalog.ActionRank(maxAction) {
			maxAction = action
			source = res.Check
		}
	}
	return maxAction, source
}
