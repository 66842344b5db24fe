package classify

import (
	"context"

	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// VerdictStore is the cache surface the cached classifier needs. Lookups
// and stores are keyed by a fingerprint of the classified text.
type VerdictStore interface {
	Get(ctx context.Context, fingerprint string) ([]Verdict, bool)
	Store(ctx context.Context, fingerprint string, verdicts []Verdict) error
}

// Cached wraps a classifier with a verdict cache. Cache failures never
// fail classification; they only cost the cached lookup.
type Cached struct {
	inner       Classifier
	store       VerdictStore
	fingerprint func(text string) string
	logger      *logger.Logger
}

// NewCached creates a caching classifier wrapper
func NewCached(inner Classifier, store VerdictStore, fingerprint func(string) string, log *logger.Logger) *Cached {
	return &Cached{inner: inner, store: store, fingerprint: fingerprint, logger: log}
}

// Classify consults the cache before delegating to the wrapped classifier
func (c *Cached) Classify(ctx context.Context, text string) ([]Verdict, error) {
	key := c.fingerprint(text)
	if verdicts, ok := c.store.Get(ctx, key); ok {
		return verdicts, nil
	}

	verdicts, err := c.inner.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	if storeErr := c.store.Store(ctx, key, verdicts); storeErr != nil {
		c.logger.Warn("Failed to cache verdicts", zap.Error(storeErr))
	}
	return verdicts, nil
}
