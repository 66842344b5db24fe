package export

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/wardenhq/llm-warden/internal/audit"
	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// Fetcher pages audit records out of the store, oldest first
type Fetcher interface {
	FetchSince(ctx context.Context, since time.Time, limit int) ([]audit.Record, error)
}

// Config tunes the export run
type Config struct {
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Since     time.Duration `yaml:"since" mapstructure:"since"` // window before now, 0 means everything
}

// Row is the Parquet representation of one audit record
type Row struct {
	CorrelationID  string   `parquet:"correlation_id" json:"correlation_id"`
	Fingerprint    string   `parquet:"fingerprint" json:"fingerprint"`
	RulesetVersion string   `parquet:"ruleset_version" json:"ruleset_version"`
	Scope          string   `parquet:"scope" json:"scope"`
	Outcome        string   `parquet:"outcome" json:"outcome"`
	Reasons        []string `parquet:"reasons,list" json:"reasons"`
	RuleIDs        []string `parquet:"rule_ids,list" json:"rule_ids"`
	Stage          string   `parquet:"stage" json:"stage"`
	CreatedAt      int64    `parquet:"created_at,timestamp" json:"created_at"`
}

// Result summarizes an export run
type Result struct {
	Records  int64         `json:"records"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
}

// Exporter streams audit records into a Parquet file for offline analysis
type Exporter struct {
	fetcher Fetcher
	config  Config
	logger  *logger.Logger
}

// New creates an exporter
func New(fetcher Fetcher, config Config, log *logger.Logger) *Exporter {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &Exporter{
		fetcher: fetcher,
		config:  config,
		logger:  log.WithComponent("export"),
	}
}

// Run fetches records in batches and writes them to outputPath
func (e *Exporter) Run(ctx context.Context, outputPath string) (*Result, error) {
	start := time.Now()

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)

	since := time.Time{}
	if e.config.Since > 0 {
		since = time.Now().Add(-e.config.Since)
	}

	result := &Result{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		records, err := e.fetcher.FetchSince(ctx, since, e.config.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(records) == 0 {
			break
		}

		for _, record := range records {
			row := Row{
				CorrelationID:  record.CorrelationID,
				Fingerprint:    record.Fingerprint,
				RulesetVersion: record.RulesetVersion,
				Scope:          record.Scope,
				Outcome:        record.Outcome,
				Reasons:        record.Reasons,
				RuleIDs:        record.RuleIDs,
				Stage:          record.Stage,
				CreatedAt:      record.CreatedAt.UnixMilli(),
			}
			if err := writer.Write(&row); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}

		result.Records += int64(len(records))
		result.Batches++
		e.logger.Debug("Batch exported",
			zap.Int("batch_size", len(records)),
			zap.Int64("total", result.Records),
		)

		// Advance past the last record so the next page does not repeat it
		since = records[len(records)-1].CreatedAt.Add(time.Nanosecond)

		if len(records) < e.config.BatchSize {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	result.Duration = time.Since(start)
	e.logger.Info("Export completed",
		zap.String("output", outputPath),
		zap.Int64("records", result.Records),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
