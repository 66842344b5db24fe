package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// StoreConfig contains database configuration for the Postgres sink
type StoreConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const createTableStmt = `
CREATE TABLE IF NOT EXISTS audit_records (
	id              BIGSERIAL PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	ruleset_version TEXT NOT NULL,
	scope           TEXT NOT NULL DEFAULT '',
	outcome         TEXT NOT NULL,
	reasons         TEXT[] NOT NULL DEFAULT '{}',
	rule_ids        TEXT[] NOT NULL DEFAULT '{}',
	stage           TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
)`

// PostgresSink persists audit records to PostgreSQL
type PostgresSink struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgresSink connects to the database and ensures the audit table
func NewPostgresSink(config *StoreConfig, log *logger.Logger) (*PostgresSink, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	sink := &PostgresSink{db: db, logger: log}
	if err := sink.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	log.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return sink, nil
}

func (s *PostgresSink) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTableStmt); err != nil {
		return fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return nil
}

// Write inserts one audit record
func (s *PostgresSink) Write(ctx context.Context, record *Record) error {
	const query = `
		INSERT INTO audit_records
			(correlation_id, fingerprint, ruleset_version, scope, outcome, reasons, rule_ids, stage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		record.CorrelationID,
		record.Fingerprint,
		record.RulesetVersion,
		record.Scope,
		record.Outcome,
		pq.StringArray(record.Reasons),
		pq.StringArray(record.RuleIDs),
		record.Stage,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// storedRecord adds the array scan types pq needs
type storedRecord struct {
	CorrelationID  string         `db:"correlation_id"`
	Fingerprint    string         `db:"fingerprint"`
	RulesetVersion string         `db:"ruleset_version"`
	Scope          string         `db:"scope"`
	Outcome        string         `db:"outcome"`
	Reasons        pq.StringArray `db:"reasons"`
	RuleIDs        pq.StringArray `db:"rule_ids"`
	Stage          string         `db:"stage"`
	CreatedAt      time.Time      `db:"created_at"`
}

// FetchSince returns up to limit records created at or after the given
// time, oldest first. Used by the export pipeline.
func (s *PostgresSink) FetchSince(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	const query = `
		SELECT correlation_id, fingerprint, ruleset_version, scope, outcome, reasons, rule_ids, stage, created_at
		FROM audit_records
		WHERE created_at >= $1
		ORDER BY created_at ASC
		LIMIT $2`

	var rows []storedRecord
	if err := s.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch audit records: %w", err)
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record{
			CorrelationID:  row.CorrelationID,
			Fingerprint:    row.Fingerprint,
			RulesetVersion: row.RulesetVersion,
			Scope:          row.Scope,
			Outcome:        row.Outcome,
			Reasons:        row.Reasons,
			RuleIDs:        row.RuleIDs,
			Stage:          row.Stage,
			CreatedAt:      row.CreatedAt,
		}
	}
	return records, nil
}

// Close closes the database connection
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides credentials in log output
func maskDatabaseURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
