package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wardenhq/llm-warden/internal/classify"
	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// Config contains verdict cache configuration
type Config struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL   string        `yaml:"redis_url" mapstructure:"redis_url"`
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix  string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Stats reports cache performance counters
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// VerdictCache stores classifier verdicts in Redis keyed by the SHA-256
// fingerprint of the sanitized text. Only sanitized text is ever hashed,
// so no raw PII reaches the cache keys or values.
type VerdictCache struct {
	client *redis.Client
	config *Config
	logger *logger.Logger
	hits   int64
	misses int64
}

// NewVerdictCache connects to Redis and verifies the connection
func NewVerdictCache(config *Config, log *logger.Logger) (*VerdictCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	vc := &VerdictCache{client: client, config: config, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Verdict cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("default_ttl", config.DefaultTTL),
	)
	return vc, nil
}

// Get returns the cached verdicts for a text fingerprint, if present.
// Cache errors degrade to a miss; the caller falls through to the
// classifier.
func (vc *VerdictCache) Get(ctx context.Context, fingerprint string) ([]classify.Verdict, bool) {
	raw, err := vc.client.Get(ctx, vc.key(fingerprint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			vc.logger.Warn("Verdict cache read failed", zap.Error(err))
		}
		atomic.AddInt64(&vc.misses, 1)
		return nil, false
	}

	var verdicts []classify.Verdict
	if err := json.Unmarshal(raw, &verdicts); err != nil {
		vc.logger.Warn("Discarding undecodable cache entry", zap.Error(err))
		atomic.AddInt64(&vc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&vc.hits, 1)
	return verdicts, true
}

// Store caches the verdicts for a text fingerprint with the default TTL
func (vc *VerdictCache) Store(ctx context.Context, fingerprint string, verdicts []classify.Verdict) error {
	raw, err := json.Marshal(verdicts)
	if err != nil {
		return fmt.Errorf("failed to encode verdicts: %w", err)
	}
	if err := vc.client.Set(ctx, vc.key(fingerprint), raw, vc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store verdicts: %w", err)
	}
	return nil
}

// Stats returns hit/miss counters
func (vc *VerdictCache) Stats() Stats {
	hits := atomic.LoadInt64(&vc.hits)
	misses := atomic.LoadInt64(&vc.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: rate}
}

// Close releases the Redis connection
func (vc *VerdictCache) Close() error {
	return vc.client.Close()
}

func (vc *VerdictCache) key(fingerprint string) string {
	prefix := vc.config.KeyPrefix
	if prefix == "" {
		prefix = "warden:verdicts"
	}
	return prefix + ":" + fingerprint
}

// maskRedisURL hides credentials in log output
func maskRedisURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
