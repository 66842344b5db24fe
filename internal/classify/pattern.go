package classify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// scoredPattern is a compiled heuristic with its confidence weight
type scoredPattern struct {
	pattern *regexp.Regexp
	label   string
	score   float64
}

// PatternClassifier scores prompt-injection and jailbreak phrasing with
// local regular-expression heuristics. It needs no network access and is
// the default classifier when no remote scoring service is configured.
type PatternClassifier struct {
	patterns []scoredPattern
	logger   *logger.Logger
}

// NewPatternClassifier compiles the built-in heuristic patterns
func NewPatternClassifier(log *logger.Logger) (*PatternClassifier, error) {
	injection := map[string]float64{
		`(?i)ignore\s+(all\s+)?(previous\s+|prior\s+)?instructions?`:      0.95,
		`(?i)forget\s+(everything\s+)?(above|before)`:                     0.90,
		`(?i)(tell|show|give)\s+me\s+(your|the)\s+(prompt|instructions?)`: 0.70,
		`(?i)what\s+(is|are)\s+your\s+(initial|original|base)\s+prompt`:   0.65,
		`(?i)without\s+(any\s+)?(restrictions?|limitations?|rules?)`:      0.65,
	}
	jailbreak := map[string]float64{
		`(?i)(override|bypass|disable)\s+(system|security|safety)`:   0.95,
		`(?i)jailbreak|dan\s+mode|evil\s+mode`:                       0.90,
		`(?i)you\s+are\s+now\s+(a|an|the)?\s*(different|new|evil)`:   0.85,
		`(?i)pretend\s+you\s+are\s+(not\s+)?(an?\s+)?ai`:             0.85,
		`(?i)(developer|admin|god|root)\s+mode`:                      0.70,
		`(?i)roleplay\s+as\s+(a\s+)?(different|evil|harmful)`:        0.70,
		`(?i)please\s+help\s+me\s+(bypass|override|ignore)`:          0.60,
	}

	pc := &PatternClassifier{logger: log}
	for _, group := range []struct {
		label    string
		patterns map[string]float64
	}{
		{"injection", injection},
		{"jailbreak", jailbreak},
	} {
		for raw, score := range group.patterns {
			compiled, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to compile classifier pattern %s: %w", raw, err)
			}
			pc.patterns = append(pc.patterns, scoredPattern{
				pattern: compiled,
				label:   group.label,
				score:   score,
			})
		}
	}

	log.Info("Pattern classifier initialized", zap.Int("patterns", len(pc.patterns)))
	return pc, nil
}

// Classify returns at most one verdict per label, carrying the highest
// confidence among the patterns that matched.
func (pc *PatternClassifier) Classify(ctx context.Context, text string) ([]Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := make(map[string]float64)
	for _, sp := range pc.patterns {
		if sp.pattern.MatchString(text) && sp.score > best[sp.label] {
			best[sp.label] = sp.score
		}
	}

	// stable label order
	var verdicts []Verdict
	for _, label := range []string{"injection", "jailbreak"} {
		if score, ok := best[label]; ok {
			verdicts = append(verdicts, Verdict{Label: label, Score: score})
		}
	}
	return verdicts, nil
}
