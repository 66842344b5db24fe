package pipeline

import (
	"github.com/wardenhq/llm-warden/internal/audit"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/policy"
	"github.com/wardenhq/llm-warden/internal/ruleset"
)

// Stage names the pipeline state machine positions. Terminal stages are
// StageCompleted and StageBlocked.
type Stage string

const (
	StageReceived         Stage = "received"
	StageScoped           Stage = "scoped"
	StageSanitizingInput  Stage = "sanitizing_input"
	StageClassifying      Stage = "classifying"
	StageEvaluating       Stage = "evaluating"
	StageForwarding       Stage = "forwarding"
	StageSanitizingOutput Stage = "sanitizing_output"
	StageEvaluatingOutput Stage = "evaluating_output"
	StageCompleted        Stage = "completed"
	StageBlocked          Stage = "blocked"
)

// Request is one pipeline invocation: raw text, a scope descriptor, and an
// optional caller-supplied correlation id.
type Request struct {
	Text          string
	Scope         ruleset.Scope
	CorrelationID string
}

// Result is what the pipeline hands back to the caller. The caller owns
// the audit record after return; the pipeline does not retain it.
type Result struct {
	CorrelationID   string           `json:"correlation_id"`
	SanitizedInput  string           `json:"sanitized_input"`
	Output          string           `json:"output,omitempty"`
	Decision        policy.Decision  `json:"decision"`
	OutputDecision  *policy.Decision `json:"output_decision,omitempty"`
	Spans           []match.Span     `json:"spans,omitempty"`
	RulesetVersion  string           `json:"ruleset_version"`
	Stage           Stage            `json:"stage"`
	Audit           audit.Record     `json:"audit"`
}
