package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("audit: not found")

// Record describes one pass through the SQL pipeline. It deliberately has no
// field for the user's message.
type Record struct {
	QueryID      uuid.UUID `json:"query_id"`
	TraceID      string    `json:"trace_id"`
	Strategy     string    `json:"strategy"`
	Intent       string    `json:"intent,omitempty"`
	State        string    `json:"state"`
	SQL          string    `json:"sql"`
	ValidationOK bool      `json:"validation_ok"`
	Issues       []string  `json:"issues"`
	EngineError  string    `json:"engine_error,omitempty"`
	RowCount     int64     `json:"row_count"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// New stamps a record with a fresh id and the current time.
func New(traceID string) Record {
	return Record{
		QueryID:   uuid.New(),
		TraceID:   traceID,
		Issues:    []string{},
		CreatedAt: time.Now().UTC(),
	}
}

type Recorder interface {
	Record(ctx context.Context, record Record) error
}

type Reader interface {
	Recent(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, queryID uuid.UUID) (Record, error)
}

type Repository interface {
	Recorder
	Reader
}

// Nop discards records; it is used when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }
