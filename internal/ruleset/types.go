package ruleset

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaskingStrategy determines how a matched span is transformed
type MaskingStrategy string

const (
	// StrategyMask replaces the span with a category-labeled placeholder
	StrategyMask MaskingStrategy = "mask"
	// StrategyRedact removes the span entirely
	StrategyRedact MaskingStrategy = "redact"
	// StrategyHash replaces the span with a deterministic digest token
	StrategyHash MaskingStrategy = "hash"
	// StrategyNone leaves the text unchanged but records the match
	StrategyNone MaskingStrategy = "none"
)

// ValidStrategy reports whether s is a recognized masking strategy
func ValidStrategy(s MaskingStrategy) bool {
	switch s {
	case StrategyMask, StrategyRedact, StrategyHash, StrategyNone:
		return true
	}
	return false
}

// Severity is the policy weight of a category. It is declared explicitly
// per category in the ruleset file, never inferred from list position.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// Category is a member of a ruleset's closed category set
type Category struct {
	Name     string
	Severity Severity
}

// Rule is a single pattern rule. Immutable once loaded.
type Rule struct {
	ID         string
	Name       string
	Category   string
	Pattern    *regexp.Regexp
	RawPattern string
	Country    string // empty = any
	Language   string // empty = any
	Enabled    bool
	Masking    MaskingStrategy
}

// MatchesScope reports whether the rule applies to the given request scope.
// A rule without a country/language restriction matches any scope.
func (r *Rule) MatchesScope(scope Scope) bool {
	if r.Country != "" && scope.Country != "" && !strings.EqualFold(r.Country, scope.Country) {
		return false
	}
	if r.Language != "" && scope.Language != "" && !strings.EqualFold(r.Language, scope.Language) {
		return false
	}
	return true
}

// RuleSet is a versioned, ordered collection of rules plus policy metadata.
// A RuleSet is immutable after load; reconfiguration produces a new one.
type RuleSet struct {
	Version         string
	LastUpdated     time.Time
	Scope           Scope
	Categories      []Category
	Rules           []Rule
	ForbiddenTopics []string
	Guidelines      []string

	severity map[string]Severity
	byID     map[string]*Rule
}

// CategorySeverity returns the declared severity for a category name,
// defaulting to low for unknown categories.
func (rs *RuleSet) CategorySeverity(name string) Severity {
	if sev, ok := rs.severity[strings.ToLower(name)]; ok {
		return sev
	}
	return SeverityLow
}

// Rule returns the rule with the given id, if present
func (rs *RuleSet) Rule(id string) (*Rule, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// IsForbiddenTopic reports whether topic matches one of the ruleset's
// free-text forbidden topics (case-insensitive).
func (rs *RuleSet) IsForbiddenTopic(topic string) bool {
	for _, t := range rs.ForbiddenTopics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Scope is the (country, language, domain) key selecting which ruleset
// snapshot applies to a request.
type Scope struct {
	Country  string
	Language string
	Domain   string
}

// Key returns the canonical lookup key for the scope
func (s Scope) Key() string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", s.Country, s.Language, s.Domain))
}

// IsZero reports whether the scope is fully unscoped
func (s Scope) IsZero() bool {
	return s.Country == "" && s.Language == "" && s.Domain == ""
}
