package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/llm-warden/internal/audit"
	"github.com/wardenhq/llm-warden/internal/config"
	"github.com/wardenhq/llm-warden/internal/export"
	"github.com/wardenhq/llm-warden/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Configuration file path")
		outputFile = flag.String("output", "", "Output Parquet file path")
		batchSize  = flag.Int("batch-size", 1000, "Fetch batch size")
		since      = flag.Duration("since", 0, "Export window before now (0 = everything)")
	)
	flag.Parse()

	if *outputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output audit.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output last-day.parquet --since 24h\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Audit.Backend != "postgres" {
		fmt.Fprintf(os.Stderr, "Export requires the postgres audit backend (configured: %s)\n", cfg.Audit.Backend)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting audit export",
		zap.String("config", *configPath),
		zap.String("output", *outputFile),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	sink, err := audit.NewPostgresSink(&cfg.Audit.Store, log.WithComponent("audit"))
	if err != nil {
		log.Fatal("Failed to connect to audit store", zap.Error(err))
	}
	defer sink.Close()

	exporter := export.New(sink, export.Config{
		BatchSize: *batchSize,
		Since:     *since,
	}, log)

	result, err := exporter.Run(ctx, *outputFile)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	fmt.Printf("Exported %d records in %d batches (%s)\n",
		result.Records, result.Batches, result.Duration.Round(time.Millisecond))
}
