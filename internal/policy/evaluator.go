package policy

import (
	"fmt"
	"strings"

	"github.com/wardenhq/llm-warden/internal/classify"
	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/mask"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/ruleset"
)

// Outcome is the pipeline's verdict for a piece of text
type Outcome string

const (
	// OutcomeAllow passes the text through untouched
	OutcomeAllow Outcome = "allow"
	// OutcomeMask means content was corrected; proceed with sanitized text
	OutcomeMask Outcome = "mask"
	// OutcomeWarn passes the text but flags it to the caller
	OutcomeWarn Outcome = "warn"
	// OutcomeBlock stops the request before it reaches the model
	OutcomeBlock Outcome = "block"
)

// ReasonKind identifies what produced a decision reason
type ReasonKind string

const (
	ReasonRule       ReasonKind = "rule"
	ReasonClassifier ReasonKind = "classifier"
	ReasonCapability ReasonKind = "capability"
)

// Reason references the rule id, classifier label, or failed capability
// that contributed to a decision.
type Reason struct {
	Kind   ReasonKind `json:"kind"`
	Ref    string     `json:"ref"`
	Detail string     `json:"detail,omitempty"`
}

// String renders the reason in the compact "kind:ref" audit form
func (r Reason) String() string {
	return string(r.Kind) + ":" + r.Ref
}

// Decision is the evaluator's final verdict with supporting reasons
type Decision struct {
	Outcome     Outcome  `json:"outcome"`
	Reasons     []Reason `json:"reasons,omitempty"`
	Explanation string   `json:"explanation"`
}

// Thresholds configures classifier score cut-offs
type Thresholds struct {
	Block float64
	Warn  float64
}

// Evaluator combines matched spans, masking actions, ruleset metadata and
// classifier verdicts into a single deterministic decision. It is pure
// given its inputs and performs no I/O.
type Evaluator struct {
	thresholds Thresholds
	logger     *logger.Logger
}

// New creates an evaluator with the given thresholds
func New(thresholds Thresholds, log *logger.Logger) *Evaluator {
	return &Evaluator{thresholds: thresholds, logger: log}
}

// Evaluate decides the outcome for one sanitize pass.
//
// Decision policy: any high-severity category match, any verdict at or
// above the block threshold, or any verdict naming a forbidden topic yields
// Block. Otherwise, if anything triggered at all, the outcome is Mask when
// every triggering span was neutralized by its masking strategy and no
// verdict reached the warn threshold, else Warn. Nothing triggered: Allow.
func (ev *Evaluator) Evaluate(spans []match.Span, actions []mask.Action, verdicts []classify.Verdict, rs *ruleset.RuleSet) Decision {
	var reasons []Reason
	block := false
	neutralized := true

	strategyBySpan := make(map[int]ruleset.MaskingStrategy, len(actions))
	for _, action := range actions {
		strategyBySpan[action.Start] = action.Strategy
	}

	for _, span := range spans {
		reasons = append(reasons, Reason{
			Kind:   ReasonRule,
			Ref:    span.RuleID,
			Detail: span.Category,
		})
		if rs.CategorySeverity(span.Category) == ruleset.SeverityHigh {
			block = true
		}
		if strategyBySpan[span.Start] == ruleset.StrategyNone {
			neutralized = false
		}
	}

	verdictAboveWarn := false
	for _, verdict := range verdicts {
		triggering := verdict.Score >= ev.thresholds.Warn || ev.isForbidden(verdict, rs)
		if !triggering {
			continue
		}
		reasons = append(reasons, Reason{
			Kind:   ReasonClassifier,
			Ref:    verdict.Label,
			Detail: fmt.Sprintf("score=%.2f", verdict.Score),
		})
		verdictAboveWarn = true
		if verdict.Score >= ev.thresholds.Block || ev.isForbidden(verdict, rs) {
			block = true
		}
	}

	switch {
	case block:
		return Decision{
			Outcome:     OutcomeBlock,
			Reasons:     reasons,
			Explanation: explain("blocked by policy", reasons),
		}
	case len(reasons) == 0:
		return Decision{Outcome: OutcomeAllow, Explanation: "no policy triggers"}
	case neutralized && !verdictAboveWarn:
		return Decision{
			Outcome:     OutcomeMask,
			Reasons:     reasons,
			Explanation: explain("content corrected by masking", reasons),
		}
	default:
		return Decision{
			Outcome:     OutcomeWarn,
			Reasons:     reasons,
			Explanation: explain("policy triggers present", reasons),
		}
	}
}

// isForbidden reports whether a verdict names one of the ruleset's
// forbidden topics, e.g. label "unsafe-topic:gambling" against topic
// "gambling".
func (ev *Evaluator) isForbidden(verdict classify.Verdict, rs *ruleset.RuleSet) bool {
	topic := verdict.Label
	if idx := strings.Index(topic, ":"); idx != -1 {
		topic = topic[idx+1:]
	}
	return rs.IsForbiddenTopic(topic)
}

func explain(summary string, reasons []Reason) string {
	refs := make([]string, len(reasons))
	for i, r := range reasons {
		refs[i] = r.String()
	}
	return summary + ": " + strings.Join(refs, ", ")
}
