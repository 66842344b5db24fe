package ruleset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// ErrNoValidRules is returned when a ruleset file contains no usable rules.
// Activating such a ruleset would silently disable enforcement, so the whole
// load fails instead.
var ErrNoValidRules = errors.New("ruleset contains no valid rules")

// RuleError reports a single rule that failed validation and was dropped
// from the snapshot. It is a warning, not fatal to the load.
type RuleError struct {
	RuleID string
	Field  string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: invalid %s: %v", e.RuleID, e.Field, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// ruleSetFile is the on-disk JSON shape of a ruleset
type ruleSetFile struct {
	Version         string          `json:"version"`
	LastUpdated     string          `json:"last_updated"`
	Scope           scopeFile       `json:"scope"`
	Categories      []categoryEntry `json:"categories"`
	Rules           []ruleFile      `json:"rules"`
	Guidelines      []string        `json:"guidelines"`
	ForbiddenTopics []string        `json:"forbidden_topics"`
}

type scopeFile struct {
	Country  string `json:"country"`
	Language string `json:"language"`
	Domain   string `json:"domain"`
}

type ruleFile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Pattern       string `json:"pattern"`
	Country       string `json:"country"`
	Language      string `json:"language"`
	Enabled       bool   `json:"enabled"`
	MaskingMethod string `json:"masking_method"`
}

// categoryEntry accepts either a bare string (low severity) or an object
// with an explicit severity.
type categoryEntry struct {
	Name     string
	Severity Severity
}

func (c *categoryEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Name = name
		c.Severity = SeverityLow
		return nil
	}

	var obj struct {
		Name     string `json:"name"`
		Severity string `json:"severity"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Name == "" {
		return errors.New("category entry missing name")
	}
	c.Name = obj.Name
	switch strings.ToLower(obj.Severity) {
	case "", string(SeverityLow):
		c.Severity = SeverityLow
	case string(SeverityHigh):
		c.Severity = SeverityHigh
	default:
		return fmt.Errorf("unknown category severity %q", obj.Severity)
	}
	return nil
}

// Loader loads and validates ruleset files
type Loader struct {
	logger *logger.Logger
}

// NewLoader creates a ruleset loader
func NewLoader(log *logger.Logger) *Loader {
	return &Loader{logger: log}
}

// LoadFile loads a single ruleset file. Rules failing validation are
// dropped and reported via the returned RuleError slice; the load only
// fails when no valid rules remain or the document itself is malformed.
func (l *Loader) LoadFile(path string) (*RuleSet, []*RuleError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ruleset file: %w", err)
	}
	rs, issues, err := l.Parse(data)
	if err != nil {
		return nil, issues, fmt.Errorf("ruleset %s: %w", filepath.Base(path), err)
	}
	return rs, issues, nil
}

// Parse validates and compiles a ruleset document
func (l *Loader) Parse(data []byte) (*RuleSet, []*RuleError, error) {
	var file ruleSetFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("malformed ruleset document: %w", err)
	}

	rs := &RuleSet{
		Version: file.Version,
		Scope: Scope{
			Country:  file.Scope.Country,
			Language: file.Scope.Language,
			Domain:   file.Scope.Domain,
		},
		ForbiddenTopics: file.ForbiddenTopics,
		Guidelines:      file.Guidelines,
		severity:        make(map[string]Severity, len(file.Categories)),
		byID:            make(map[string]*Rule, len(file.Rules)),
	}

	if file.LastUpdated != "" {
		ts, err := time.Parse(time.RFC3339, file.LastUpdated)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid last_updated timestamp: %w", err)
		}
		rs.LastUpdated = ts
	}

	for _, entry := range file.Categories {
		name := strings.ToLower(entry.Name)
		rs.Categories = append(rs.Categories, Category{Name: name, Severity: entry.Severity})
		rs.severity[name] = entry.Severity
	}

	var issues []*RuleError
	seen := make(map[string]bool, len(file.Rules))
	for _, rf := range file.Rules {
		rule, issue := l.buildRule(rf, rs, seen)
		if issue != nil {
			issues = append(issues, issue)
			l.logger.Warn("Dropping invalid rule",
				zap.String("rule_id", issue.RuleID),
				zap.String("field", issue.Field),
				zap.Error(issue.Err),
			)
			continue
		}
		seen[rule.ID] = true
		rs.Rules = append(rs.Rules, *rule)
	}

	for i := range rs.Rules {
		rs.byID[rs.Rules[i].ID] = &rs.Rules[i]
	}

	if len(rs.Rules) == 0 {
		return nil, issues, ErrNoValidRules
	}

	return rs, issues, nil
}

// buildRule validates one rule entry and compiles its pattern
func (l *Loader) buildRule(rf ruleFile, rs *RuleSet, seen map[string]bool) (*Rule, *RuleError) {
	if rf.ID == "" {
		return nil, &RuleError{RuleID: "(unknown)", Field: "id", Err: errors.New("missing rule id")}
	}
	if seen[rf.ID] {
		return nil, &RuleError{RuleID: rf.ID, Field: "id", Err: errors.New("duplicate rule id")}
	}
	if _, ok := rs.severity[strings.ToLower(rf.Category)]; !ok {
		return nil, &RuleError{RuleID: rf.ID, Field: "category",
			Err: fmt.Errorf("category %q not in declared category set", rf.Category)}
	}
	strategy := MaskingStrategy(rf.MaskingMethod)
	if !ValidStrategy(strategy) {
		return nil, &RuleError{RuleID: rf.ID, Field: "masking_method",
			Err: fmt.Errorf("unknown masking strategy %q", rf.MaskingMethod)}
	}
	if rf.Pattern == "" {
		return nil, &RuleError{RuleID: rf.ID, Field: "pattern", Err: errors.New("empty pattern")}
	}

	// Patterns are case-insensitive by default unless they declare their
	// own inline flags.
	raw := rf.Pattern
	if !strings.HasPrefix(raw, "(?") {
		raw = "(?i)" + raw
	}
	compiled, err := regexp.Compile(raw)
	if err != nil {
		return nil, &RuleError{RuleID: rf.ID, Field: "pattern", Err: err}
	}

	return &Rule{
		ID:         rf.ID,
		Name:       rf.Name,
		Category:   strings.ToLower(rf.Category),
		Pattern:    compiled,
		RawPattern: rf.Pattern,
		Country:    rf.Country,
		Language:   rf.Language,
		Enabled:    rf.Enabled,
		Masking:    strategy,
	}, nil
}

// LoadDir loads every *.json ruleset in dir, sorted by name so load order
// is reproducible. Files that fail to load entirely are reported and
// skipped; the directory load succeeds if at least one ruleset loads.
func (l *Loader) LoadDir(dir string) ([]*RuleSet, []*RuleError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ruleset directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var sets []*RuleSet
	var issues []*RuleError
	for _, name := range names {
		path := filepath.Join(dir, name)
		rs, fileIssues, err := l.LoadFile(path)
		issues = append(issues, fileIssues...)
		if err != nil {
			l.logger.Error("Failed to load ruleset file",
				zap.String("file", name),
				zap.Error(err),
			)
			continue
		}
		l.logger.Info("Loaded ruleset",
			zap.String("file", name),
			zap.String("version", rs.Version),
			zap.String("scope", rs.Scope.Key()),
			zap.Int("rules", len(rs.Rules)),
		)
		sets = append(sets, rs)
	}

	if len(sets) == 0 {
		return nil, issues, fmt.Errorf("no usable rulesets in %s", dir)
	}
	return sets, issues, nil
}
