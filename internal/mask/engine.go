package mask

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/ruleset"
	"go.uber.org/zap"
)

// Action records what the engine did to one span. It carries the rule id,
// category and (for hash) the digest, never the original matched text.
type Action struct {
	RuleID   string                  `json:"rule_id"`
	Category string                  `json:"category"`
	Strategy ruleset.MaskingStrategy `json:"strategy"`
	Start    int                     `json:"start"`
	Digest   string                  `json:"digest,omitempty"`
}

// Engine transforms matched spans into sanitized output
type Engine struct {
	logger *logger.Logger
}

// New creates a masking engine
func New(log *logger.Logger) *Engine {
	return &Engine{logger: log}
}

// Apply rewrites text according to each span's rule strategy and returns
// the sanitized text plus the applied actions in ascending span order.
// Spans are applied in descending start order so offset shifts from earlier
// replacements never invalidate later spans.
func (e *Engine) Apply(text string, spans []match.Span, rs *ruleset.RuleSet) (string, []Action) {
	if len(spans) == 0 {
		return text, nil
	}

	ordered := make([]match.Span, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	sanitized := text
	actions := make([]Action, 0, len(ordered))

	for _, span := range ordered {
		strategy := ruleset.StrategyMask
		if rule, ok := rs.Rule(span.RuleID); ok {
			strategy = rule.Masking
		}

		action := Action{
			RuleID:   span.RuleID,
			Category: span.Category,
			Strategy: strategy,
			Start:    span.Start,
		}

		switch strategy {
		case ruleset.StrategyMask:
			sanitized = sanitized[:span.Start] + Placeholder(span.Category) + sanitized[span.End:]
		case ruleset.StrategyRedact:
			sanitized = sanitized[:span.Start] + sanitized[span.End:]
		case ruleset.StrategyHash:
			action.Digest = Digest(span.Text)
			sanitized = sanitized[:span.Start] + hashToken(action.Digest) + sanitized[span.End:]
		case ruleset.StrategyNone:
			// recorded for audit, text untouched
		}

		actions = append(actions, action)
		e.logger.Debug("Span masked",
			zap.String("rule_id", span.RuleID),
			zap.String("category", span.Category),
			zap.String("strategy", string(strategy)),
		)
	}

	// actions were collected right-to-left; report them in span order
	sort.Slice(actions, func(i, j int) bool { return actions[i].Start < actions[j].Start })
	return sanitized, actions
}

// Placeholder returns the category-labeled token substituted for masked
// spans, e.g. "[EMAIL]". Placeholder tokens are expected not to satisfy any
// pattern rule; that is a configuration invariant of the ruleset files.
func Placeholder(category string) string {
	return fmt.Sprintf("[%s]", strings.ToUpper(category))
}

// Digest returns the deterministic one-way digest used by the hash
// strategy. Same input always yields the same digest, allowing
// de-duplication without recovering the value.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func hashToken(digest string) string {
	return fmt.Sprintf("[HASH:%s]", digest[:16])
}
