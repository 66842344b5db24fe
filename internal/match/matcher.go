package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/ruleset"
	"go.uber.org/zap"
)

// Span is a contiguous matched region of text attributed to one rule.
// Spans from the same evaluation pass never overlap.
type Span struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Text     string `json:"-"` // never serialized, consumed by the masking engine only
	RuleID   string `json:"rule_id"`
	Category string `json:"category"`
}

// RuleFault reports a rule whose evaluation failed at match time. The rule
// is skipped for the current request only; matching continues.
type RuleFault struct {
	RuleID string
	Err    error
}

func (f *RuleFault) Error() string {
	return fmt.Sprintf("rule %q: %v", f.RuleID, f.Err)
}

// Matcher evaluates a ruleset snapshot against text. Matching is pure: it
// never mutates the snapshot or the input.
type Matcher struct {
	budget time.Duration // per-rule evaluation budget, 0 = unlimited
	logger *logger.Logger
}

// New creates a matcher with the given per-rule time budget
func New(budget time.Duration, log *logger.Logger) *Matcher {
	return &Matcher{budget: budget, logger: log}
}

// Match evaluates the snapshot's rules against text, in ruleset order,
// and returns non-overlapping spans sorted by start offset.
//
// Overlap policy: once a region is covered by an accepted match, no later
// rule may claim an overlapping span. Earlier-ordered rules win ties.
// Within one rule's own matches the scan is leftmost-first, non-overlapping.
func (m *Matcher) Match(text string, rs *ruleset.RuleSet, scope ruleset.Scope) ([]Span, []*RuleFault) {
	var spans []Span
	var faults []*RuleFault

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if !rule.Enabled || !rule.MatchesScope(scope) {
			continue
		}

		found, err := m.scanRule(rule, text, spans)
		if err != nil {
			faults = append(faults, &RuleFault{RuleID: rule.ID, Err: err})
			m.logger.Warn("Rule evaluation skipped for this request",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}
		spans = append(spans, found...)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans, faults
}

// scanRule finds all occurrences of one rule that do not overlap spans
// already accepted by earlier rules. Exceeding the per-rule budget discards
// the rule's matches for this request.
func (m *Matcher) scanRule(rule *ruleset.Rule, text string, accepted []Span) (spans []Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			spans, err = nil, fmt.Errorf("pattern evaluation panicked: %v", r)
		}
	}()

	start := time.Now()
	locations := rule.Pattern.FindAllStringIndex(text, -1)
	if m.budget > 0 && time.Since(start) > m.budget {
		return nil, fmt.Errorf("evaluation budget %v exceeded", m.budget)
	}

	for _, loc := range locations {
		if overlapsAny(loc[0], loc[1], accepted) || overlapsAny(loc[0], loc[1], spans) {
			continue
		}
		spans = append(spans, Span{
			Start:    loc[0],
			End:      loc[1],
			Text:     text[loc[0]:loc[1]],
			RuleID:   rule.ID,
			Category: rule.Category,
		})
	}
	return spans, nil
}

func overlapsAny(start, end int, spans []Span) bool {
	for _, s := range spans {
		if start < s.End && end > s.Start {
			return true
		}
	}
	return false
}
