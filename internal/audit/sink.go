package audit

import (
	"context"
	"time"

	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// Sink persists audit records
type Sink interface {
	Write(ctx context.Context, record *Record) error
	Close() error
}

// LogSink writes audit records to the structured log. It is the fallback
// when no database backend is configured.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log-backed audit sink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

// Write emits the record as a structured log line
func (s *LogSink) Write(_ context.Context, record *Record) error {
	s.logger.Info("Audit record",
		zap.String("correlation_id", record.CorrelationID),
		zap.String("fingerprint", record.Fingerprint),
		zap.String("ruleset_version", record.RulesetVersion),
		zap.String("scope", record.Scope),
		zap.String("outcome", record.Outcome),
		zap.Strings("reasons", record.Reasons),
		zap.Strings("rule_ids", record.RuleIDs),
		zap.String("stage", record.Stage),
	)
	return nil
}

// Close is a no-op for the log sink
func (s *LogSink) Close() error { return nil }

// Recorder decouples the pipeline from audit persistence. Records are
// queued to a background writer; a full queue or a failing sink is
// reported to operators but never blocks or fails the response to the
// caller.
type Recorder struct {
	sink         Sink
	queue        chan *Record
	writeTimeout time.Duration
	logger       *logger.Logger
	done         chan struct{}
}

// NewRecorder starts the background writer
func NewRecorder(sink Sink, queueSize int, writeTimeout time.Duration, log *logger.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		sink:         sink,
		queue:        make(chan *Record, queueSize),
		writeTimeout: writeTimeout,
		logger:       log,
		done:         make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an audit record without blocking. Dropped records are
// reported as audit write failures.
func (r *Recorder) Record(record *Record) {
	select {
	case r.queue <- record:
	default:
		r.logger.Error("Audit queue full, record dropped",
			zap.String("correlation_id", record.CorrelationID),
		)
	}
}

func (r *Recorder) run() {
	for record := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		if err := r.sink.Write(ctx, record); err != nil {
			r.logger.Error("Audit write failed",
				zap.String("correlation_id", record.CorrelationID),
				zap.Error(err),
			)
		}
		cancel()
	}
	close(r.done)
}

// Close drains the queue and closes the sink
func (r *Recorder) Close() error {
	close(r.queue)
	<-r.done
	return r.sink.Close()
}
