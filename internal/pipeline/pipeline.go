package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wardenhq/llm-warden/internal/audit"
	"github.com/wardenhq/llm-warden/internal/classify"
	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/mask"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/model"
	"github.com/wardenhq/llm-warden/internal/policy"
	"github.com/wardenhq/llm-warden/internal/ruleset"
	"go.uber.org/zap"
)

// ErrNoRuleset is returned when no snapshot matches the request scope and
// no unscoped default exists.
var ErrNoRuleset = errors.New("no ruleset snapshot for request scope")

// Config tunes the pipeline's external-call behavior
type Config struct {
	ClassifierTimeout time.Duration
	ModelTimeout      time.Duration
	// FailOpen disables the fail-closed default. When set, a classifier
	// or model failure is logged and the pipeline proceeds without the
	// failed capability instead of blocking.
	FailOpen bool
}

// Pipeline sequences sanitize, classify, evaluate, and the optional model
// forward for one request. All state is request-local except the registry
// snapshot pointer, so any number of requests may run concurrently.
type Pipeline struct {
	registry   *ruleset.Registry
	matcher    *match.Matcher
	masker     *mask.Engine
	evaluator  *policy.Evaluator
	classifier classify.Classifier
	generator  model.Generator
	recorder   *audit.Recorder
	config     Config
	logger     *logger.Logger
}

// New assembles a pipeline. The generator may be nil for analyze-only
// deployments.
func New(
	registry *ruleset.Registry,
	matcher *match.Matcher,
	masker *mask.Engine,
	evaluator *policy.Evaluator,
	classifier classify.Classifier,
	generator model.Generator,
	recorder *audit.Recorder,
	config Config,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		registry:   registry,
		matcher:    matcher,
		masker:     masker,
		evaluator:  evaluator,
		classifier: classifier,
		generator:  generator,
		recorder:   recorder,
		config:     config,
		logger:     log,
	}
}

// Analyze runs the inbound half of the pipeline without forwarding to the
// model: sanitize, classify, evaluate, audit.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Result, error) {
	return p.run(ctx, req, false)
}

// Complete runs the full pipeline: sanitize, classify, evaluate, forward
// to the model unless blocked, then sanitize and evaluate the model output
// symmetrically before returning it.
func (p *Pipeline) Complete(ctx context.Context, req Request) (*Result, error) {
	return p.run(ctx, req, true)
}

func (p *Pipeline) run(ctx context.Context, req Request, forward bool) (*Result, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	log := p.logger.WithCorrelationID(req.CorrelationID)
	stage := StageReceived
	advance := func(next Stage) {
		stage = next
		log.Debug("Pipeline stage", zap.String("stage", string(stage)))
	}

	// Scoped: resolve which snapshot applies and hold it for the whole
	// request. A concurrent reload cannot mutate it under us.
	snapshot, ok := p.registry.Current(req.Scope)
	if !ok {
		return nil, ErrNoRuleset
	}
	advance(StageScoped)

	// Sanitizing(input): raw text never crosses the boundary to the
	// classifier or model stages.
	advance(StageSanitizingInput)
	spans, faults := p.matcher.Match(req.Text, snapshot, req.Scope)
	sanitized, actions := p.masker.Apply(req.Text, spans, snapshot)
	for _, fault := range faults {
		log.Warn("Rule skipped during matching", zap.String("rule_id", fault.RuleID), zap.Error(fault.Err))
	}

	// Classifying: sanitized text only, with an explicit timeout.
	advance(StageClassifying)
	verdicts, capability := p.classify(ctx, sanitized, log)

	advance(StageEvaluating)
	decision := p.evaluator.Evaluate(spans, actions, verdicts, snapshot)
	if capability != nil {
		decision = failClosed(decision, *capability)
	}

	result := &Result{
		CorrelationID:  req.CorrelationID,
		SanitizedInput: sanitized,
		Decision:       decision,
		Spans:          spans,
		RulesetVersion: snapshot.Version,
	}

	if decision.Outcome == policy.OutcomeBlock {
		result.Stage = StageBlocked
		p.record(result, req, snapshot)
		log.Info("Request blocked",
			zap.String("explanation", decision.Explanation),
			zap.Int("spans", len(spans)),
		)
		return result, nil
	}

	if !forward {
		result.Stage = StageCompleted
		p.record(result, req, snapshot)
		return result, nil
	}

	// Forwarding: the external model sees only sanitized text.
	advance(StageForwarding)
	output, err := p.generate(ctx, sanitized, log)
	if err != nil {
		capReason := policy.Reason{Kind: policy.ReasonCapability, Ref: "model", Detail: err.Error()}
		if p.config.FailOpen {
			log.Warn("Model call failed, fail-open configured", zap.Error(err))
			result.Stage = StageCompleted
			p.record(result, req, snapshot)
			return result, nil
		}
		result.Decision = failClosed(result.Decision, capReason)
		result.Stage = StageBlocked
		p.record(result, req, snapshot)
		return result, nil
	}

	// Sanitizing(output) + Evaluating(output): outbound content gets the
	// same treatment as inbound.
	advance(StageSanitizingOutput)
	outSpans, outFaults := p.matcher.Match(output, snapshot, req.Scope)
	outSanitized, outActions := p.masker.Apply(output, outSpans, snapshot)
	for _, fault := range outFaults {
		log.Warn("Rule skipped during output matching", zap.String("rule_id", fault.RuleID), zap.Error(fault.Err))
	}

	advance(StageEvaluatingOutput)
	outDecision := p.evaluator.Evaluate(outSpans, outActions, nil, snapshot)
	result.OutputDecision = &outDecision

	if outDecision.Outcome == policy.OutcomeBlock {
		result.Stage = StageBlocked
		p.record(result, req, snapshot)
		log.Info("Model output blocked", zap.String("explanation", outDecision.Explanation))
		return result, nil
	}

	result.Output = outSanitized
	result.Stage = StageCompleted
	p.record(result, req, snapshot)
	return result, nil
}

// classify invokes the external classifier with a bounded timeout. On
// failure the fail-closed default treats the miss as the highest-severity
// verdict; fail-open deployments proceed without verdicts.
func (p *Pipeline) classify(ctx context.Context, text string, log *logger.Logger) ([]classify.Verdict, *policy.Reason) {
	cctx, cancel := context.WithTimeout(ctx, p.config.ClassifierTimeout)
	defer cancel()

	verdicts, err := p.classifier.Classify(cctx, text)
	if err == nil {
		return verdicts, nil
	}

	if p.config.FailOpen {
		log.Warn("Classifier call failed, fail-open configured", zap.Error(err))
		return nil, nil
	}

	log.Warn("Classifier call failed, failing closed", zap.Error(err))
	return nil, &policy.Reason{Kind: policy.ReasonCapability, Ref: "classifier", Detail: err.Error()}
}

func (p *Pipeline) generate(ctx context.Context, prompt string, log *logger.Logger) (string, error) {
	if p.generator == nil {
		return "", errors.New("no model capability configured")
	}
	gctx, cancel := context.WithTimeout(ctx, p.config.ModelTimeout)
	defer cancel()
	return p.generator.Generate(gctx, prompt)
}

// failClosed upgrades a decision to Block with the capability failure
// appended to its reasons.
func failClosed(d policy.Decision, reason policy.Reason) policy.Decision {
	reasons := append(d.Reasons, reason)
	return policy.Decision{
		Outcome:     policy.OutcomeBlock,
		Reasons:     reasons,
		Explanation: "blocked: external capability unavailable (" + reason.Ref + ")",
	}
}

// record assembles the audit record and hands it to the recorder. Audit
// persistence never blocks or fails the response.
func (p *Pipeline) record(result *Result, req Request, snapshot *ruleset.RuleSet) {
	reasons := make([]string, 0, len(result.Decision.Reasons))
	ruleIDs := make([]string, 0, len(result.Spans))
	for _, reason := range result.Decision.Reasons {
		reasons = append(reasons, reason.String())
	}
	for _, span := range result.Spans {
		ruleIDs = append(ruleIDs, span.RuleID)
	}

	result.Audit = audit.Record{
		CorrelationID:  result.CorrelationID,
		Fingerprint:    Fingerprint(req.Text),
		RulesetVersion: snapshot.Version,
		Scope:          req.Scope.Key(),
		Outcome:        string(result.Decision.Outcome),
		Reasons:        reasons,
		RuleIDs:        ruleIDs,
		Stage:          string(result.Stage),
		CreatedAt:      time.Now().UTC(),
	}

	if p.recorder != nil {
		record := result.Audit
		p.recorder.Record(&record)
	}
}

// Fingerprint returns the SHA-256 hex digest used to reference input text
// in audit records and cache keys without retaining the text itself.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
