package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenhq/llm-warden/internal/audit"
	"github.com/wardenhq/llm-warden/internal/cache"
	"github.com/wardenhq/llm-warden/internal/classify"
	"github.com/wardenhq/llm-warden/internal/config"
	"github.com/wardenhq/llm-warden/internal/events"
	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/mask"
	"github.com/wardenhq/llm-warden/internal/match"
	"github.com/wardenhq/llm-warden/internal/metrics"
	"github.com/wardenhq/llm-warden/internal/model"
	"github.com/wardenhq/llm-warden/internal/pipeline"
	"github.com/wardenhq/llm-warden/internal/policy"
	"github.com/wardenhq/llm-warden/internal/ruleset"
	"github.com/wardenhq/llm-warden/internal/server"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("llm-warden %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting llm-warden",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	// Load rulesets and activate the registry
	loader := ruleset.NewLoader(log.WithComponent("ruleset"))
	sets, issues, err := loader.LoadDir(cfg.Rules.Dir)
	for _, issue := range issues {
		log.Warn("Rule dropped during load", zap.String("rule_id", issue.RuleID), zap.Error(issue.Err))
	}
	if err != nil {
		log.Fatal("Failed to load rulesets", zap.String("dir", cfg.Rules.Dir), zap.Error(err))
	}

	registry := ruleset.NewRegistry(log.WithComponent("registry"))
	registry.ActivateAll(sets)

	// Server settings need a restart; config changes are surfaced so
	// operators notice a stale process.
	if err := config.Watch(cfg, func(updated *config.Config) {
		log.Info("Configuration file changed, restart to apply",
			zap.String("log_level", updated.Logging.Level))
	}); err != nil {
		log.Warn("Configuration watch unavailable", zap.Error(err))
	}

	var watcher *ruleset.Watcher
	if cfg.Rules.Watch {
		watcher, err = ruleset.NewWatcher(cfg.Rules.Dir, loader, registry, log.WithComponent("watcher"))
		if err != nil {
			log.Fatal("Failed to create ruleset watcher", zap.Error(err))
		}
		watcher.Start()
		defer watcher.Close()
	}

	// Build the classifier capability
	classifier, verdictCache, err := buildClassifier(cfg, log)
	if err != nil {
		log.Fatal("Failed to create classifier", zap.Error(err))
	}
	if verdictCache != nil {
		defer verdictCache.Close()
	}

	// Optional model capability
	var generator model.Generator
	if cfg.Upstream.URL != "" {
		generator = model.NewHTTPGenerator(cfg.Upstream.URL, cfg.Upstream.Timeout, log.WithComponent("model"))
	}

	// Audit recorder
	sink, err := buildAuditSink(cfg, log)
	if err != nil {
		log.Fatal("Failed to create audit sink", zap.Error(err))
	}
	recorder := audit.NewRecorder(sink, cfg.Audit.QueueSize, cfg.Audit.WriteTimeout, log.WithComponent("audit"))
	defer recorder.Close()

	// Assemble the pipeline
	pipe := pipeline.New(
		registry,
		match.New(cfg.Pipeline.MatchBudget, log.WithComponent("match")),
		mask.New(log.WithComponent("mask")),
		policy.New(policy.Thresholds{
			Block: cfg.Pipeline.BlockThreshold,
			Warn:  cfg.Pipeline.WarnThreshold,
		}, log.WithComponent("policy")),
		classifier,
		generator,
		recorder,
		pipeline.Config{
			ClassifierTimeout: cfg.Pipeline.ClassifierTimeout,
			ModelTimeout:      cfg.Pipeline.ModelTimeout,
			FailOpen:          cfg.Pipeline.FailOpen,
		},
		log.WithComponent("pipeline"),
	)

	var hub *events.Hub
	if cfg.Events.Enabled {
		hub = events.NewHub(&events.HubConfig{AllowedOrigins: cfg.Events.AllowedOrigins}, log)
	}

	var reloader server.Reloader
	if watcher != nil {
		reloader = watcher
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Logger:   log,
		Pipeline: pipe,
		Registry: registry,
		Reloader: reloader,
		Hub:      hub,
		Metrics:  metrics.New(),
		Version:  version,
	})

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// buildClassifier creates the configured classifier, wrapping it with the
// verdict cache when enabled.
func buildClassifier(cfg *config.Config, log *logger.Logger) (classify.Classifier, *cache.VerdictCache, error) {
	var (
		inner classify.Classifier
		err   error
	)
	switch cfg.Classifier.Type {
	case "http":
		inner = classify.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.Timeout, log.WithComponent("classify"))
	default:
		inner, err = classify.NewPatternClassifier(log.WithComponent("classify"))
		if err != nil {
			return nil, nil, err
		}
	}

	if !cfg.Cache.Enabled {
		return inner, nil, nil
	}

	verdictCache, err := cache.NewVerdictCache(&cfg.Cache, log.WithComponent("cache"))
	if err != nil {
		return nil, nil, err
	}
	cached := classify.NewCached(inner, verdictCache, pipeline.Fingerprint, log.WithComponent("cache"))
	return cached, verdictCache, nil
}

// buildAuditSink creates the configured audit backend
func buildAuditSink(cfg *config.Config, log *logger.Logger) (audit.Sink, error) {
	if cfg.Audit.Backend == "postgres" {
		return audit.NewPostgresSink(&cfg.Audit.Store, log.WithComponent("audit"))
	}
	return audit.NewLogSink(log.WithComponent("audit")), nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
