package match

import (
	"testing"
	"time"

	"github.com/wardenhq/llm-warden/internal/logger"
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

func TestMatch(t *testing.T) {
	matcher := New(0, logger.NewNop())

	t.Run("FindsSpansSortedByStart", func(t *testing.T) {
		rs := buildSet(t, `{
			"version": "v1",
			"categories": ["email", "phone"],
			"rules": [
				{"id": "phone", "category": "phone", "pattern": "\\b[0-9]{3}-[0-9]{4}\\b", "enabled": true, "masking_method": "mask"},
				{"id": "email", "category": "email", "pattern": "[a-z0-9.]+@[a-z0-9.]+\\.[a-z]{2,}", "enabled": true, "masking_method": "mask"}
			]
		}`)

		text := "mail alice@example.com or call 555-1234"
		spans, faults := matcher.Match(text, rs, ruleset.Scope{})
		if len(faults) != 0 {
			t.Fatalf("Unexpected faults: %v", faults)
		}
		if len(spans) != 2 {
			t.Fatalf("Got %d spans, want 2", len(spans))
		}
		// email occurs first in the text even though its rule is listed second
		if spans[0].RuleID != "email" || spans[1].RuleID != "phone" {
			t.Errorf("Spans out of order: %v", spans)
		}
		if spans[0].Text != "alice@example.com" {
			t.Errorf("Span text = %q", spans[0].Text)
		}
	})

	t.Run("EarlierRuleWinsOverlap", func(t *testing.T) {
		rs := buildSet(t, `{
			"version": "v1",
			"categories": ["a", "b"],
			"rules": [
				{"id": "narrow", "category": "a", "pattern": "bcd", "enabled": true, "masking_method": "mask"},
				{"id": "wide", "category": "b", "pattern": "abcde", "enabled": true, "masking_method": "mask"}
			]
		}`)

		spans, _ := matcher.Match("abcde", rs, ruleset.Scope{})
		if len(spans) != 1 || spans[0].RuleID != "narrow" {
			t.Errorf("Expected only the earlier rule's span, got %v", spans)
		}
	})

	t.Run("DisabledRuleSkipped", func(t *testing.T) {
		rs := buildSet(t, `{
			"version": "v1",
			"categories": ["email"],
			"rules": [
				{"id": "off", "category": "email", "pattern": "a@b", "enabled": false, "masking_method": "mask"},
				{"id": "on", "category": "email", "pattern": "c@d", "enabled": true, "masking_method": "mask"}
			]
		}`)

		spans, _ := matcher.Match("a@b c@d", rs, ruleset.Scope{})
		if len(spans) != 1 || spans[0].RuleID != "on" {
			t.Errorf("Disabled rule should not match, got %v", spans)
		}
	})

	t.Run("ScopeFiltering", func(t *testing.T) {
		rs := buildSet(t, `{
			"version": "v1",
			"categories": ["phone"],
			"rules": [
				{"id": "bn_phone", "category": "phone", "pattern": "\\+673[0-9]{7}", "country": "bn", "enabled": true, "masking_method": "mask"},
				{"id": "any_phone", "category": "phone", "pattern": "\\b[0-9]{3}-[0-9]{4}\\b", "enabled": true, "masking_method": "mask"}
			]
		}`)

		text := "+6732345678 or 555-1234"

		spans, _ := matcher.Match(text, rs, ruleset.Scope{Country: "us"})
		if len(spans) != 1 || spans[0].RuleID != "any_phone" {
			t.Errorf("Country-bound rule should not apply to us scope: %v", spans)
		}

		spans, _ = matcher.Match(text, rs, ruleset.Scope{Country: "bn"})
		if len(spans) != 2 {
			t.Errorf("Both rules should apply to bn scope: %v", spans)
		}
	})

	t.Run("NoMatches", func(t *testing.T) {
		rs := buildSet(t, `{
			"version": "v1",
			"categories": ["email"],
			"rules": [{"id": "email", "category": "email", "pattern": "a@b", "enabled": true, "masking_method": "mask"}]
		}`)

		spans, faults := matcher.Match("nothing sensitive here", rs, ruleset.Scope{})
		if len(spans) != 0 || len(faults) != 0 {
			t.Errorf("Expected empty result, got %v %v", spans, faults)
		}
	})
}

func TestMatchBudget(t *testing.T) {
	rs := buildSet(t, `{
		"version": "v1",
		"categories": ["email", "phone"],
		"rules": [
			{"id": "email", "category": "email", "pattern": "[a-z]+@[a-z]+", "enabled": true, "masking_method": "mask"},
			{"id": "phone", "category": "phone", "pattern": "[0-9]{3}-[0-9]{4}", "enabled": true, "masking_method": "mask"}
		]
	}`)

	// A one-nanosecond budget is always exceeded; every rule faults and
	// matching still completes.
	matcher := New(time.Nanosecond, logger.NewNop())
	spans, faults := matcher.Match("a@b and 555-1234", rs, ruleset.Scope{})
	if len(spans) != 0 {
		t.Errorf("Budget-exceeded rules must contribute no spans, got %v", spans)
	}
	if len(faults) != 2 {
		t.Fatalf("Expected 2 faults, got %v", faults)
	}
	if faults[0].RuleID != "email" || faults[1].RuleID != "phone" {
		t.Errorf("Faults misattributed: %v", faults)
	}
}
