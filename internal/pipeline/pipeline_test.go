package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wardenhq/llm-warden/internal/classify"
	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/mask"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/policy"
	"github.com/wardenhq/llm-warden/internal/ruleset"
)

// stubClassifier returns fixed verdicts or a fixed error
type stubClassifier struct {
	verdicts []classify.Verdict
	err      error
	calls    int
}

func (s *stubClassifier) Classify(ctx context.Context, text string) ([]classify.Verdict, error) {
	s.calls++
	return s.verdicts, s.err
}

// stubGenerator echoes a canned response and counts invocations
type stubGenerator struct {
	output string
	err    error
	calls  int
	prompt string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.output, s.err
}

const pipelineDoc = `{
	"version": "v7",
	"categories": ["email", {"name": "api_key", "severity": "high"}],
	"rules": [
		{"id": "email", "category": "email", "pattern": "[a-z0-9.]+@[a-z0-9.]+\\.[a-z]{2,}", "enabled": true, "masking_method": "mask"},
		{"id": "key", "category": "api_key", "pattern": "sk-[a-z0-9]{10,}", "enabled": true, "masking_method": "redact"}
	]
}`

func newTestPipeline(t *testing.T, classifier classify.Classifier, generator *stubGenerator, cfg Config) *Pipeline {
	t.Helper()
	log := logger.NewNop()

	rs, _, err := ruleset.NewLoader(log).Parse([]byte(pipelineDoc))
	if err != nil {
		t.Fatalf("Failed to build ruleset: %v", err)
	}
	registry := ruleset.NewRegistry(log)
	registry.Activate(rs)

	if cfg.ClassifierTimeout == 0 {
		cfg.ClassifierTimeout = time.Second
	}
	if cfg.ModelTimeout == 0 {
		cfg.ModelTimeout = time.Second
	}

	p := New(
		registry,
		match.New(0, log),
		mask.New(log),
		policy.New(policy.Thresholds{Block: 0.8, Warn: 0.5}, log),
		classifier,
		nil,
		nil,
		cfg,
		log,
	)
	// assign after New so a nil *stubGenerator never becomes a non-nil interface
	if generator != nil {
		p.generator = generator
	}
	return p
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("MasksEmailAndDecidesMask", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{}, nil, Config{})

		result, err := p.Analyze(ctx, Request{Text: "contact alice@example.com please"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result.SanitizedInput != "contact [EMAIL] please" {
			t.Errorf("SanitizedInput = %q", result.SanitizedInput)
		}
		if result.Decision.Outcome != policy.OutcomeMask {
			t.Errorf("Outcome = %q, want mask", result.Decision.Outcome)
		}
		if result.Stage != StageCompleted {
			t.Errorf("Stage = %q, want completed", result.Stage)
		}
		if result.RulesetVersion != "v7" {
			t.Errorf("RulesetVersion = %q", result.RulesetVersion)
		}
	})

	t.Run("CleanTextAllows", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{}, nil, Config{})

		result, err := p.Analyze(ctx, Request{Text: "what is the weather like"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result.Decision.Outcome != policy.OutcomeAllow {
			t.Errorf("Outcome = %q, want allow", result.Decision.Outcome)
		}
	})

	t.Run("GeneratesCorrelationID", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{}, nil, Config{})

		result, err := p.Analyze(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result.CorrelationID == "" {
			t.Error("CorrelationID not generated")
		}
	})

	t.Run("NoRulesetForScope", func(t *testing.T) {
		log := logger.NewNop()
		registry := ruleset.NewRegistry(log)
		p := New(registry, match.New(0, log), mask.New(log),
			policy.New(policy.Thresholds{Block: 0.8, Warn: 0.5}, log),
			&stubClassifier{}, nil, nil,
			Config{ClassifierTimeout: time.Second, ModelTimeout: time.Second}, log)

		if _, err := p.Analyze(ctx, Request{Text: "hello"}); !errors.Is(err, ErrNoRuleset) {
			t.Errorf("Expected ErrNoRuleset, got %v", err)
		}
	})

	t.Run("AuditRecordFingerprintsText", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{}, nil, Config{})

		result, err := p.Analyze(ctx, Request{Text: "contact alice@example.com please"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result.Audit.Fingerprint != Fingerprint("contact alice@example.com please") {
			t.Error("Audit fingerprint mismatch")
		}
		if strings.Contains(result.Audit.Fingerprint, "alice") {
			t.Error("Audit record leaks raw text")
		}
		if len(result.Audit.RuleIDs) != 1 || result.Audit.RuleIDs[0] != "email" {
			t.Errorf("Audit rule ids = %v", result.Audit.RuleIDs)
		}
		if len(result.Audit.Reasons) != 1 || result.Audit.Reasons[0] != "rule:email" {
			t.Errorf("Audit reasons = %v", result.Audit.Reasons)
		}
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("ForwardsSanitizedPrompt", func(t *testing.T) {
		gen := &stubGenerator{output: "a harmless answer"}
		p := newTestPipeline(t, &stubClassifier{}, gen, Config{})

		result, err := p.Complete(ctx, Request{Text: "email me at alice@example.com"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if gen.calls != 1 {
			t.Fatalf("Generator calls = %d, want 1", gen.calls)
		}
		if strings.Contains(gen.prompt, "alice@example.com") {
			t.Errorf("Raw text reached the model: %q", gen.prompt)
		}
		if result.Output != "a harmless answer" {
			t.Errorf("Output = %q", result.Output)
		}
		if result.Stage != StageCompleted {
			t.Errorf("Stage = %q", result.Stage)
		}
	})

	t.Run("BlockedInputNeverReachesModel", func(t *testing.T) {
		gen := &stubGenerator{output: "should never be produced"}
		p := newTestPipeline(t, &stubClassifier{}, gen, Config{})

		result, err := p.Complete(ctx, Request{Text: "here is my key sk-abcdef123456789x"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if result.Decision.Outcome != policy.OutcomeBlock {
			t.Fatalf("Outcome = %q, want block", result.Decision.Outcome)
		}
		if gen.calls != 0 {
			t.Errorf("Generator called %d times on blocked input", gen.calls)
		}
		if result.Stage != StageBlocked {
			t.Errorf("Stage = %q, want blocked", result.Stage)
		}
	})

	t.Run("ModelOutputIsSanitized", func(t *testing.T) {
		gen := &stubGenerator{output: "reply to bob@example.org directly"}
		p := newTestPipeline(t, &stubClassifier{}, gen, Config{})

		result, err := p.Complete(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if result.Output != "reply to [EMAIL] directly" {
			t.Errorf("Output = %q", result.Output)
		}
		if result.OutputDecision == nil || result.OutputDecision.Outcome != policy.OutcomeMask {
			t.Errorf("OutputDecision = %v", result.OutputDecision)
		}
	})

	t.Run("HighSeverityOutputBlocks", func(t *testing.T) {
		gen := &stubGenerator{output: "your key is sk-abcdef123456789x"}
		p := newTestPipeline(t, &stubClassifier{}, gen, Config{})

		result, err := p.Complete(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if result.Stage != StageBlocked {
			t.Errorf("Stage = %q, want blocked", result.Stage)
		}
		if result.Output != "" {
			t.Errorf("Blocked output leaked: %q", result.Output)
		}
	})
}

func TestFailClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("ClassifierFailureBlocksByDefault", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{err: errors.New("service down")}, nil, Config{})

		result, err := p.Analyze(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result.Decision.Outcome != policy.OutcomeBlock {
			t.Fatalf("Outcome = %q, want block", result.Decision.Outcome)
		}
		found := false
		for _, reason := range result.Audit.Reasons {
			if reason == "capability:classifier" {
				found = true
			}
		}
		if !found {
			t.Errorf("Capability reason missing from audit: %v", result.Audit.Reasons)
		}
	})

	t.Run("ClassifierFailureFailOpen", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{err: errors.New("service down")}, nil, Config{FailOpen: true})

		result, err := p.Analyze(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result.Decision.Outcome != policy.OutcomeAllow {
			t.Errorf("Outcome = %q, want allow under fail-open", result.Decision.Outcome)
		}
	})

	t.Run("ModelFailureBlocksByDefault", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("upstream timeout")}
		p := newTestPipeline(t, &stubClassifier{}, gen, Config{})

		result, err := p.Complete(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if result.Decision.Outcome != policy.OutcomeBlock || result.Stage != StageBlocked {
			t.Errorf("Result = %q/%q, want block/blocked", result.Decision.Outcome, result.Stage)
		}
	})

	t.Run("ModelFailureFailOpenReturnsSanitizedInput", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("upstream timeout")}
		p := newTestPipeline(t, &stubClassifier{}, gen, Config{FailOpen: true})

		result, err := p.Complete(ctx, Request{Text: "mail alice@example.com"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if result.Stage != StageCompleted {
			t.Errorf("Stage = %q, want completed", result.Stage)
		}
		if result.Output != "" {
			t.Errorf("No output expected, got %q", result.Output)
		}
		if result.SanitizedInput != "mail [EMAIL]" {
			t.Errorf("SanitizedInput = %q", result.SanitizedInput)
		}
	})

	t.Run("NoGeneratorConfigured", func(t *testing.T) {
		p := newTestPipeline(t, &stubClassifier{}, nil, Config{})

		result, err := p.Complete(ctx, Request{Text: "hello"})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if result.Decision.Outcome != policy.OutcomeBlock {
			t.Errorf("Outcome = %q, want block without a model capability", result.Decision.Outcome)
		}
	})
}

func TestClassifierVerdictsFlowIntoDecision(t *testing.T) {
	p := newTestPipeline(t, &stubClassifier{
		verdicts: []classify.Verdict{{Label: "injection", Score: 0.95}},
	}, nil, Config{})

	result, err := p.Analyze(context.Background(), Request{Text: "some crafted prompt"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Decision.Outcome != policy.OutcomeBlock {
		t.Errorf("Outcome = %q, want block", result.Decision.Outcome)
	}
	found := false
	for _, reason := range result.Decision.Reasons {
		if reason.Kind == policy.ReasonClassifier && reason.Ref == "injection" {
			found = true
		}
	}
	if !found {
		t.Errorf("Classifier reason missing: %v", result.Decision.Reasons)
	}
}
