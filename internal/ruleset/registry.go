package ruleset

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// Registry holds the active ruleset snapshots keyed by scope. Snapshots are
// replaced by atomic pointer swap: readers always observe either the old or
// the new complete snapshot map, never a partially updated one, and a
// snapshot taken at the start of a request stays valid for its duration.
type Registry struct {
	snapshots atomic.Value // map[string]*RuleSet, copy-on-write
	writeMu   sync.Mutex
	logger    *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{logger: log}
	r.snapshots.Store(map[string]*RuleSet{})
	return r
}

// Activate installs rs as the active snapshot for its declared scope.
// In-flight requests holding the previous snapshot keep using it.
func (r *Registry) Activate(rs *RuleSet) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.snapshots.Load().(map[string]*RuleSet)
	next := make(map[string]*RuleSet, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[rs.Scope.Key()] = rs
	r.snapshots.Store(next)

	r.logger.Info("Ruleset activated",
		zap.String("scope", rs.Scope.Key()),
		zap.String("version", rs.Version),
		zap.Int("rules", len(rs.Rules)),
	)
}

// ActivateAll atomically replaces every active snapshot with the given
// rulesets. Used on reload so readers never see a mix of old and new files.
func (r *Registry) ActivateAll(sets []*RuleSet) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := make(map[string]*RuleSet, len(sets))
	for _, rs := range sets {
		next[rs.Scope.Key()] = rs
	}
	r.snapshots.Store(next)

	r.logger.Info("Registry snapshot replaced", zap.Int("rulesets", len(sets)))
}

// Current returns the best-matching snapshot for the request scope.
// Lookup order: exact scope, country+language, country only, language only,
// then the unscoped default.
func (r *Registry) Current(scope Scope) (*RuleSet, bool) {
	snapshots := r.snapshots.Load().(map[string]*RuleSet)

	candidates := []Scope{
		scope,
		{Country: scope.Country, Language: scope.Language},
		{Country: scope.Country},
		{Language: scope.Language},
		{},
	}
	for _, c := range candidates {
		if rs, ok := snapshots[c.Key()]; ok {
			return rs, true
		}
	}
	return nil, false
}

// CurrentByKey returns the snapshot stored under the exact scope key,
// without fallback.
func (r *Registry) CurrentByKey(key string) (*RuleSet, bool) {
	snapshots := r.snapshots.Load().(map[string]*RuleSet)
	rs, ok := snapshots[key]
	return rs, ok
}

// Scopes returns the scope keys of all active snapshots, sorted
func (r *Registry) Scopes() []string {
	snapshots := r.snapshots.Load().(map[string]*RuleSet)
	keys := make([]string, 0, len(snapshots))
	for k := range snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
