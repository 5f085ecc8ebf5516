// Package events defines the progress events a sync run emits and a
// bounded, non-blocking queue for delivering them to a consumer (a CLI
// printer, a log sink, a test harness), along with the run's structured
// logging setup.
package events

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened during a sync run.
type Kind string

const (
	TableStarted          Kind = "table_started"
	TableSchemaCreated    Kind = "table_schema_created"
	TableStrategySelected Kind = "table_strategy_selected"
	BatchApplied          Kind = "batch_applied"
	TableCompleted        Kind = "table_completed"
	TableFailed           Kind = "table_failed"
	RunSummary            Kind = "run_summary"
)

// Event is one occurrence during a sync run, correlated by RunID.
type Event struct {
	RunID     uuid.UUID
	Kind      Kind
	Table     string // schema.table, empty for run-level events
	Timestamp time.Time

	// Populated depending on Kind.
	Strategy     string
	Inserted     int64
	Updated      int64
	Deleted      int64
	BatchNumber  int
	Err          error
	TablesTotal  int
	TablesOK     int
	TablesFailed int
}

// Queue is a bounded, non-blocking event sink: Publish drops the event
// rather than blocking the caller when the queue is full, since progress
// reporting must never slow down or deadlock a sync.
type Queue struct {
	ch chan Event
}

// NewQueue creates a Queue with the given buffer capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// Publish enqueues an event, dropping it and logging at debug level if the
// queue is full.
func (q *Queue) Publish(e Event) {
	select {
	case q.ch <- e:
	default:
		slog.Debug("event queue full, dropping event", "kind", e.Kind, "table", e.Table)
	}
}

// Events returns the channel to range over for consuming published events.
// The caller is responsible for ranging until Close is called.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Close closes the underlying channel. Safe to call once all publishers
// have finished.
func (q *Queue) Close() {
	close(q.ch)
}

// InitSlog configures the default slog logger based on the LOG_LEVEL
// environment variable (debug, info, warn, error; defaults to info),
// writing structured text output to stderr.
func InitSlog() {
	level := slog.LevelInfo
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch strings.ToLower(raw) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// NewRunID generates a fresh correlation ID for a sync run.
func NewRunID() uuid.UUID {
	return uuid.New()
}
