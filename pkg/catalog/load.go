package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/curatorlabs/datacollector/pkg/denylist"
	"github.com/curatorlabs/datacollector/pkg/version"
)

// File is the top-level target catalog document.
type File struct {
	Version          string   `yaml:"version,omitempty"`
	MinEngineVersion string   `yaml:"min_engine_version,omitempty"`
	Targets          []Target `yaml:"targets"`
}

// Config bundles every declarative input of a classification run.
type Config struct {
	Targets    []Target
	LicenseMap *LicenseMap
	Denylist   *denylist.Denylist
}

// LoadTargets parses and validates a target catalog. knownChecks names the
// content-check implementations compiled into this build; unknown names are
// warnings normally and hard errors under strict. Unknown gates and
// strategies are always hard errors — there is no partial interpretation of
// a gate.
func LoadTargets(path string, knownChecks map[string]bool, strict bool) ([]Target, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read targets %s: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse targets %s: %w", path, err)
	}

	if file.MinEngineVersion != "" {
		constraint, err := semver.NewConstraint(file.MinEngineVersion)
		if err != nil {
			return nil, nil, &ValidationError{Field: "min_engine_version", Detail: err.Error()}
		}
		current, err := semver.NewVersion(version.Version)
		if err == nil && !constraint.Check(current) {
			return nil, nil, &ValidationError{Field: "min_engine_version",
				Detail: fmt.Sprintf("catalog requires engine %s, this build is %s", file.MinEngineVersion, version.Version)}
		}
	}

	var warnings []string
	seen := map[string]bool{}
	for i := range file.Targets {
		t := &file.Targets[i]
		if t.ID == "" {
			return nil, nil, &ValidationError{Field: fmt.Sprintf("targets[%d].id", i), Detail: "empty id"}
		}
		if seen[t.ID] {
			return nil, nil, &ValidationError{TargetID: t.ID, Field: "id", Detail: "duplicate id"}
		}
		seen[t.ID] = true

		if t.LicenseProfile == "" {
			t.LicenseProfile = ProfileUnknown
		}
		if !ValidProfile(t.LicenseProfile) {
			return nil, nil, &ValidationError{TargetID: t.ID, Field: "license_profile",
				Detail: fmt.Sprintf("unknown profile %q", t.LicenseProfile)}
		}
		if t.Download.Strategy != "" && !KnownStrategies[t.Download.Strategy] {
			return nil, nil, &ValidationError{TargetID: t.ID, Field: "download.strategy",
				Detail: fmt.Sprintf("unknown strategy %q", t.Download.Strategy)}
		}
		for _, gate := range t.LicenseGates {
			switch gate {
			case GateSnapshotTerms, GateRestrictionPhraseScan, GateManualLegalReview:
			default:
				return nil, nil, &ValidationError{TargetID: t.ID, Field: "license_gates",
					Detail: fmt.Sprintf("unknown gate %q", gate)}
			}
		}
		for _, check := range t.ContentChecks {
			if knownChecks[check] || strings.HasPrefix(check, "cel:") {
				continue
			}
			msg := fmt.Sprintf("target %s: unknown content check %q", t.ID, check)
			if strict {
				return nil, nil, &ValidationError{TargetID: t.ID, Field: "content_checks",
					Detail: fmt.Sprintf("unknown content check %q", check)}
			}
			warnings = append(warnings, msg)
		}
		for check, action := range t.ContentCheckActions {
			switch action {
			case ActionOK, ActionWarn, ActionQuarantine, ActionBlock:
			default:
				return nil, nil, &ValidationError{TargetID: t.ID, Field: "content_check_actions",
					Detail: fmt.Sprintf("check %q: unknown action %q", check, action)}
			}
		}
	}
	return file.Targets, warnings, nil
}

// LoadLicenseMap parses and validates the license decision table.
func LoadLicenseMap(path string) (*LicenseMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read license map %s: %w", path, err)
	}
	var m LicenseMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse license map %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadDenylist parses and validates the denylist.
func LoadDenylist(path string) (*denylist.Denylist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read denylist %s: %w", path, err)
	}
	var d denylist.Denylist
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse denylist %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
