package record

import (
	"strings"
	"sync"
)

type entry struct {
	Record
	claimed bool
}

// Store owns the in-memory record set for the duration of a run.
type Store struct {
	mu         sync.Mutex
	records    []*entry
	index      map[string]*entry
	cursor     int
	duplicates int
	orphans    int
}

// Load merges the input rows with the outcomes of previous runs.
// Resolved and failed outcomes are carried over; everything else starts pending.
// When an identifier occurs several times in the outcomes the last one wins.
func Load(rows []Row, outcomes []Outcome) (*Store, error) {
	s := &Store{
		records: make([]*entry, 0, len(rows)),
		index:   make(map[string]*entry, len(rows)),
	}

	for _, row := range rows {
		id := strings.TrimSpace(row.ID)
		if id == "" {
			return nil, &MalformedInputError{Line: row.Line, Reason: "row has no identifier"}
		}
		if _, ok := s.index[id]; ok {
			s.duplicates++
			continue
		}

		target := strings.TrimSpace(row.Target)
		if target == "" {
			target = id
		}

		e := &entry{Record: Record{
			ID:     id,
			Target: target,
			Name:   strings.TrimSpace(row.Name),
			Status: StatusPending,
		}}
		s.records = append(s.records, e)
		s.index[id] = e
	}

	for _, o := range outcomes {
		e, ok := s.index[o.ID]
		if !ok {
			s.orphans++
			continue
		}
		switch o.Status {
		case StatusResolved:
			e.Status = StatusResolved
			e.Result = o.Result
		case StatusFailed:
			e.Status = StatusFailed
			e.Result = ""
		}
	}

	return s, nil
}

// Duplicates returns how many input rows repeated an earlier identifier.
func (s *Store) Duplicates() int {
	return s.duplicates
}

// Orphans returns how many snapshot outcomes matched no input identifier.
func (s *Store) Orphans() int {
	return s.orphans
}

// NextPending hands out the next pending record in input order.
// A record is handed out at most once, so concurrent callers never share one.
func (s *Store) NextPending() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.cursor < len(s.records) {
		e := s.records[s.cursor]
		s.cursor++
		if e.Status == StatusPending && !e.claimed {
			e.claimed = true
			return e.Record, true
		}
	}
	return Record{}, false
}

// MarkResolved moves a pending record to resolved.
// It reports false, and changes nothing, if the record is unknown or already terminal.
func (s *Store) MarkResolved(id, result string, attempts int) bool {
	return s.transition(id, StatusResolved, result, attempts)
}

// MarkFailed moves a pending record to failed. See MarkResolved.
func (s *Store) MarkFailed(id string, attempts int) bool {
	return s.transition(id, StatusFailed, "", attempts)
}

func (s *Store) transition(id string, to Status, result string, attempts int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[id]
	if !ok || e.Status != StatusPending {
		return false
	}
	e.Status = to
	e.Result = result
	e.Attempts = attempts
	return true
}

// ResetFailed returns every failed record to pending and rewinds the cursor.
// This is the explicit operator action for re-running failures.
func (s *Store) ResetFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.records {
		if e.Status == StatusFailed {
			e.Status = StatusPending
			e.Result = ""
			e.Attempts = 0
			e.claimed = false
			n++
		}
	}
	if n > 0 {
		s.cursor = 0
	}
	return n
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return e.Record, true
}

// Records returns a copy of all records in input order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	for i, e := range s.records {
		out[i] = e.Record
	}
	return out
}

// Counts summarizes the record set by status.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Counts{Total: len(s.records)}
	for _, e := range s.records {
		switch e.Status {
		case StatusPending:
			c.Pending++
		case StatusResolved:
			c.Resolved++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}
