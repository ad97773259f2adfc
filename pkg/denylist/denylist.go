// Package denylist matches targets against curated block patterns. Three
// pattern families exist: free-form patterns over metadata fields, domain
// patterns over hostnames extracted from URL fields, and publisher substring
// patterns. Every pattern carries a severity deciding whether a hit forces
// the target RED (hard_red) or merely YELLOW (force_yellow), plus provenance
// for the audit bundle.
package denylist

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Severity ranks how a hit affects classification.
type Severity string

const (
	SeverityHardRed     Severity = "hard_red"
	SeverityForceYellow Severity = "force_yellow"
)

// PatternType selects the match algorithm for a metadata pattern.
type PatternType string

const (
	PatternSubstring PatternType = "substring"
	PatternRegex     PatternType = "regex"
	PatternDomain    PatternType = "domain"
)

// Pattern is a free-form rule over target metadata fields.
type Pattern struct {
	Type      PatternType `yaml:"type" json:"type"`
	Value     string      `yaml:"value" json:"value"`
	Fields    []string    `yaml:"fields" json:"fields"`
	Severity  Severity    `yaml:"severity" json:"severity"`
	Link      string      `yaml:"link,omitempty" json:"link,omitempty"`
	Rationale string      `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// DomainPattern matches extracted hostnames exactly or by dotted suffix.
type DomainPattern struct {
	Domain    string   `yaml:"domain" json:"domain"`
	Severity  Severity `yaml:"severity" json:"severity"`
	Link      string   `yaml:"link,omitempty" json:"link,omitempty"`
	Rationale string   `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// PublisherPattern is a case-insensitive substring over the publisher field.
type PublisherPattern struct {
	Publisher string   `yaml:"publisher" json:"publisher"`
	Severity  Severity `yaml:"severity" json:"severity"`
	Link      string   `yaml:"link,omitempty" json:"link,omitempty"`
	Rationale string   `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// Denylist is the full pattern catalog.
type Denylist struct {
	Patterns          []Pattern          `yaml:"patterns" json:"patterns"`
	DomainPatterns    []DomainPattern    `yaml:"domain_patterns" json:"domain_patterns"`
	PublisherPatterns []PublisherPattern `yaml:"publisher_patterns" json:"publisher_patterns"`
}

// Hit records one matched rule for the decision bundle.
type Hit struct {
	RuleID    string   `json:"rule_id"`
	RuleType  string   `json:"rule_type"`
	Severity  Severity `json:"severity"`
	Field     string   `json:"field,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Reason    string   `json:"reason"`
	Link      string   `json:"link,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// Haystack is the target metadata exposed to matching: named text fields plus
// the URL fields hostnames are extracted from.
type Haystack struct {
	Fields    map[string]string // e.g. id, name, publisher, description
	URLFields map[string]string // field name -> URL
}

// Match evaluates every pattern family against the haystack.
func (d *Denylist) Match(h Haystack) ([]Hit, error) {
	var hits []Hit

	for _, p := range d.Patterns {
		fields := p.Fields
		if len(fields) == 0 {
			for name := range h.Fields {
				fields = append(fields, name)
			}
		}
		for _, field := range fields {
			value, ok := h.Fields[field]
			if !ok || value == "" {
				continue
			}
			matched, err := matchPattern(p, value)
			if err != nil {
				return nil, err
			}
			if matched {
				hits = append(hits, Hit{
					RuleID:    fmt.Sprintf("denylist.%s.%s", p.Type, p.Value),
					RuleType:  "denylist." + string(p.Type),
					Severity:  p.Severity,
					Field:     field,
					Pattern:   p.Value,
					Reason:    fmt.Sprintf("%s pattern %q matched field %s", p.Type, p.Value, field),
					Link:      p.Link,
					Rationale: p.Rationale,
				})
			}
		}
	}

	for _, dp := range d.DomainPatterns {
		for field, raw := range h.URLFields {
			host := extractHost(raw)
			if host == "" {
				continue
			}
			if domainMatches(host, dp.Domain) {
				hits = append(hits, Hit{
					RuleID:    "denylist.domain." + dp.Domain,
					RuleType:  "denylist.domain",
					Severity:  dp.Severity,
					Field:     field,
					Pattern:   dp.Domain,
					Reason:    fmt.Sprintf("domain %q matched host %s in field %s", dp.Domain, host, field),
					Link:      dp.Link,
					Rationale: dp.Rationale,
				})
			}
		}
	}

	if publisher, ok := h.Fields["publisher"]; ok && publisher != "" {
		lower := strings.ToLower(publisher)
		for _, pp := range d.PublisherPatterns {
			if strings.Contains(lower, strings.ToLower(pp.Publisher)) {
				hits = append(hits, Hit{
					RuleID:    "denylist.publisher." + pp.Publisher,
					RuleType:  "denylist.publisher",
					Severity:  pp.Severity,
					Field:     "publisher",
					Pattern:   pp.Publisher,
					Reason:    fmt.Sprintf("publisher pattern %q matched %q", pp.Publisher, publisher),
					Link:      pp.Link,
					Rationale: pp.Rationale,
				})
			}
		}
	}

	return hits, nil
}

// AnyHardRed reports whether any hit carries hard_red severity.
func AnyHardRed(hits []Hit) bool {
	for _, h := range hits {
		if h.Severity == SeverityHardRed {
			return true
		}
	}
	return false
}

// AnyForceYellow reports whether any hit carries force_yellow severity.
func AnyForceYellow(hits []Hit) bool {
	for _, h := range hits {
		if h.Severity == SeverityForceYellow {
			return true
		}
	}
	return false
}

// Validate checks every regex pattern compiles and severities are known.
func (d *Denylist) Validate() error {
	for _, p := range d.Patterns {
		if p.Type == PatternRegex {
			if _, err := regexp.Compile(p.Value); err != nil {
				return fmt.Errorf("denylist pattern %q: %w", p.Value, err)
			}
		}
		if err := validSeverity(p.Severity); err != nil {
			return fmt.Errorf("denylist pattern %q: %w", p.Value, err)
		}
	}
	for _, dp := range d.DomainPatterns {
		if err := validSeverity(dp.Severity); err != nil {
			return fmt.Errorf("denylist domain %q: %w", dp.Domain, err)
		}
	}
	for _, pp := range d.PublisherPatterns {
		if err := validSeverity(pp.Severity); err != nil {
			return fmt.Errorf("denylist publisher %q: %w", pp.Publisher, err)
		}
	}
	return nil
}

func validSeverity(s Severity) error {
	if s != SeverityHardRed && s != SeverityForceYellow {
		return fmt.Errorf("unknown severity %q", s)
	}
	return nil
}

func matchPattern(p Pattern, value string) (bool, error) {
	switch p.Type {
	case PatternSubstring:
		return strings.Contains(strings.ToLower(value), strings.ToLower(p.Value)), nil
	case PatternRegex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false, fmt.Errorf("denylist regex %q: %w", p.Value, err)
		}
		return re.MatchString(value), nil
	case PatternDomain:
		host := extractHost(value)
		if host == "" {
			host = strings.ToLower(value)
		}
		return domainMatches(host, p.Value), nil
	default:
		return false, fmt.Errorf("unknown denylist pattern type %q", p.Type)
	}
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}

func domainMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
