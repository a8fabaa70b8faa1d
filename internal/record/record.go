package record

import (
	"fmt"
)

// Status represents the status of a record
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
)

// ParseStatus converts a persisted status string, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusResolved, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Row is one usable line of the input file.
type Row struct {
	ID     string
	Target string
	Name   string
	Line   int
}

// Record is one unit of work.
type Record struct {
	ID       string
	Target   string
	Name     string
	Status   Status
	Result   string
	Attempts int
}

// Outcome is a persisted (identifier, result, status) tuple read back from a snapshot.
type Outcome struct {
	ID     string
	Result string
	Status Status
}

// Counts summarizes a record set.
type Counts struct {
	Total    int
	Pending  int
	Resolved int
	Failed   int
}

// MalformedInputError means the input file cannot be turned into records.
type MalformedInputError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := "malformed input"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" line %d", e.Line)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
