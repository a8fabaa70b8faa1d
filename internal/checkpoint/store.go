package checkpoint

import (
	"context"
	"fmt"
	"time"

	"profile2site/internal/record"
)

// Entry is one persisted outcome.
type Entry struct {
	ID         string
	Result     string
	Status     record.Status
	Attempts   int
	LastError  string
	RecordedAt time.Time
}

// Outcome drops the bookkeeping fields the record store does not need.
func (e Entry) Outcome() record.Outcome {
	return record.Outcome{ID: e.ID, Result: e.Result, Status: e.Status}
}

// Store defines the interface for the append-only progress snapshot
type Store interface {
	// Load reads every entry in append order.
	Load(ctx context.Context) ([]Entry, error)
	// Append durably persists one outcome.
	Append(ctx context.Context, entry Entry) error
	Close() error
}

// PersistenceError means an outcome could not be made durable. It is fatal to a run.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Outcomes converts loaded entries for record.Load.
func Outcomes(entries []Entry) []record.Outcome {
	out := make([]record.Outcome, len(entries))
	for i, e := range entries {
		out[i] = e.Outcome()
	}
	return out
}
