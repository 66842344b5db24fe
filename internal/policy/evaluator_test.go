package policy

import (
	"strings"
	"testing"

	"github.com/wardenhq/llm-warden/internal/classify"
	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/mask"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/ruleset"
)

func buildSet(t *testing.T, doc string) *ruleset.RuleSet {
	t.Helper()
	rs, _, err := ruleset.NewLoader(logger.NewNop()).Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Failed to build ruleset: %v", err)
	}
	return rs
}

const policyDoc = `{
	"version": "v1",
	"categories": ["email", "keyword", {"name": "api_key", "severity": "high"}],
	"rules": [
		{"id": "email", "category": "email", "pattern": "a@b", "enabled": true, "masking_method": "mask"},
		{"id": "keyword", "category": "keyword", "pattern": "confidential", "enabled": true, "masking_method": "none"},
		{"id": "key", "category": "api_key", "pattern": "sk-x", "enabled": true, "masking_method": "redact"}
	],
	"forbidden_topics": ["gambling"]
}`

func TestEvaluate(t *testing.T) {
	ev := New(Thresholds{Block: 0.8, Warn: 0.5}, logger.NewNop())
	rs := buildSet(t, policyDoc)

	span := func(ruleID, category string, start int) match.Span {
		return match.Span{Start: start, End: start + 1, RuleID: ruleID, Category: category}
	}
	action := func(ruleID string, strategy ruleset.MaskingStrategy, start int) mask.Action {
		return mask.Action{RuleID: ruleID, Strategy: strategy, Start: start}
	}

	t.Run("NothingTriggeredAllows", func(t *testing.T) {
		d := ev.Evaluate(nil, nil, nil, rs)
		if d.Outcome != OutcomeAllow {
			t.Errorf("Outcome = %q, want allow", d.Outcome)
		}
		if len(d.Reasons) != 0 {
			t.Errorf("Unexpected reasons: %v", d.Reasons)
		}
	})

	t.Run("NeutralizedSpansMask", func(t *testing.T) {
		d := ev.Evaluate(
			[]match.Span{span("email", "email", 0)},
			[]mask.Action{action("email", ruleset.StrategyMask, 0)},
			nil, rs,
		)
		if d.Outcome != OutcomeMask {
			t.Errorf("Outcome = %q, want mask", d.Outcome)
		}
		if len(d.Reasons) != 1 || d.Reasons[0].String() != "rule:email" {
			t.Errorf("Reasons = %v", d.Reasons)
		}
	})

	t.Run("UnneutralizedSpanWarns", func(t *testing.T) {
		d := ev.Evaluate(
			[]match.Span{span("keyword", "keyword", 0)},
			[]mask.Action{action("keyword", ruleset.StrategyNone, 0)},
			nil, rs,
		)
		if d.Outcome != OutcomeWarn {
			t.Errorf("Outcome = %q, want warn", d.Outcome)
		}
	})

	t.Run("HighSeverityCategoryBlocks", func(t *testing.T) {
		d := ev.Evaluate(
			[]match.Span{span("key", "api_key", 0)},
			[]mask.Action{action("key", ruleset.StrategyRedact, 0)},
			nil, rs,
		)
		if d.Outcome != OutcomeBlock {
			t.Errorf("Outcome = %q, want block", d.Outcome)
		}
		if !strings.Contains(d.Explanation, "rule:key") {
			t.Errorf("Explanation should name the rule: %q", d.Explanation)
		}
	})

	t.Run("VerdictBelowWarnIgnored", func(t *testing.T) {
		d := ev.Evaluate(nil, nil, []classify.Verdict{{Label: "injection", Score: 0.3}}, rs)
		if d.Outcome != OutcomeAllow {
			t.Errorf("Outcome = %q, want allow", d.Outcome)
		}
	})

	t.Run("VerdictAtWarnThresholdWarns", func(t *testing.T) {
		d := ev.Evaluate(nil, nil, []classify.Verdict{{Label: "injection", Score: 0.5}}, rs)
		if d.Outcome != OutcomeWarn {
			t.Errorf("Outcome = %q, want warn", d.Outcome)
		}
		if len(d.Reasons) != 1 || d.Reasons[0].Kind != ReasonClassifier {
			t.Errorf("Reasons = %v", d.Reasons)
		}
	})

	t.Run("VerdictAtBlockThresholdBlocks", func(t *testing.T) {
		d := ev.Evaluate(nil, nil, []classify.Verdict{{Label: "injection", Score: 0.8}}, rs)
		if d.Outcome != OutcomeBlock {
			t.Errorf("Outcome = %q, want block", d.Outcome)
		}
	})

	t.Run("ForbiddenTopicBlocksRegardlessOfScore", func(t *testing.T) {
		d := ev.Evaluate(nil, nil, []classify.Verdict{{Label: "unsafe-topic:gambling", Score: 0.1}}, rs)
		if d.Outcome != OutcomeBlock {
			t.Errorf("Outcome = %q, want block", d.Outcome)
		}
	})

	t.Run("MaskedSpansPlusWarnVerdictWarns", func(t *testing.T) {
		// Neutralized content alone would be Mask, but a warn-level verdict
		// keeps the caller informed.
		d := ev.Evaluate(
			[]match.Span{span("email", "email", 0)},
			[]mask.Action{action("email", ruleset.StrategyMask, 0)},
			[]classify.Verdict{{Label: "injection", Score: 0.6}},
			rs,
		)
		if d.Outcome != OutcomeWarn {
			t.Errorf("Outcome = %q, want warn", d.Outcome)
		}
		if len(d.Reasons) != 2 {
			t.Errorf("Reasons = %v", d.Reasons)
		}
	})

	t.Run("ReasonsPreserveOrder", func(t *testing.T) {
		d := ev.Evaluate(
			[]match.Span{span("email", "email", 0), span("key", "api_key", 5)},
			[]mask.Action{action("email", ruleset.StrategyMask, 0), action("key", ruleset.StrategyRedact, 5)},
			[]classify.Verdict{{Label: "injection", Score: 0.9}},
			rs,
		)
		want := []string{"rule:email", "rule:key", "classifier:injection"}
		if len(d.Reasons) != len(want) {
			t.Fatalf("Reasons = %v", d.Reasons)
		}
		for i, w := range want {
			if d.Reasons[i].String() != w {
				t.Errorf("Reason[%d] = %q, want %q", i, d.Reasons[i].String(), w)
			}
		}
	})
}
