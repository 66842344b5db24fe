package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/llm-warden/internal/logger"
)

// captureSink collects written records for assertions
type captureSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
	closed  bool
}

func (s *captureSink) Write(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestRecorder(t *testing.T) {
	t.Run("WritesQueuedRecords", func(t *testing.T) {
		sink := &captureSink{}
		recorder := NewRecorder(sink, 8, time.Second, logger.NewNop())

		recorder.Record(&Record{CorrelationID: "a", Outcome: "mask"})
		recorder.Record(&Record{CorrelationID: "b", Outcome: "block"})

		if err := recorder.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if sink.count() != 2 {
			t.Errorf("Got %d records, want 2", sink.count())
		}
		if !sink.closed {
			t.Error("Sink not closed")
		}
	})

	t.Run("SinkErrorDoesNotStopRecorder", func(t *testing.T) {
		sink := &captureSink{err: errors.New("db down")}
		recorder := NewRecorder(sink, 8, time.Second, logger.NewNop())

		recorder.Record(&Record{CorrelationID: "a"})
		if err := recorder.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	})

	t.Run("FullQueueDropsInsteadOfBlocking", func(t *testing.T) {
		// A sink that blocks until released, so the queue fills up.
		release := make(chan struct{})
		blocking := &blockingSink{release: release}
		recorder := NewRecorder(blocking, 1, time.Second, logger.NewNop())

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				recorder.Record(&Record{CorrelationID: "x"})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Record blocked on a full queue")
		}

		close(release)
		recorder.Close()
	})
}

type blockingSink struct {
	release <-chan struct{}
}

func (s *blockingSink) Write(_ context.Context, _ *Record) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestLogSink(t *testing.T) {
	sink := NewLogSink(logger.NewNop())
	err := sink.Write(context.Background(), &Record{
		CorrelationID: "a",
		Fingerprint:   "deadbeef",
		Outcome:       "allow",
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
