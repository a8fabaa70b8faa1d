package extract

import (
	"errors"
	"fmt"
)

// Sentinel causes of a failed attempt
var (
	ErrLinkNotFound    = errors.New("redirect link not found")
	ErrInvalidRedirect = errors.New("redirect link has no target")
)

// InvalidTargetError means the target cannot be visited at all. No attempt is made.
type InvalidTargetError struct {
	Target string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.Target, e.Reason)
}

// ExtractionError is returned once every attempt for a target has failed.
type ExtractionError struct {
	Target    string
	Attempts  int
	LastCause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: gave up after %d attempts: %v", e.Target, e.Attempts, e.LastCause)
}

func (e *ExtractionError) Unwrap() error {
	return e.LastCause
}
