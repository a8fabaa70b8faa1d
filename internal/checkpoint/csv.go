package checkpoint

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"profile2site/internal/record"
)

// Header is the first row of a CSV snapshot and of the final report.
var Header = []string{"identifier", "result", "status"}

// CSVStore implements Store as an append-only CSV file
type CSVStore struct {
	path    string
	writeMu sync.Mutex
	// tornAt is the offset of a trailing fragment left by an interrupted write, or -1.
	// The next append truncates the file back to it.
	tornAt  int64
	skipped int
}

// NewCSVStore creates a CSV snapshot at path. The file is created lazily by the first append.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path, tornAt: -1}
}

// Load reads the snapshot. A missing file is an empty snapshot. Only complete lines are
// parsed; bytes after the last newline are a torn write and are skipped, as are rows
// that do not parse as (identifier, result, status).
func (s *CSVStore) Load(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Path: s.path, Op: "read", Err: err}
	}

	complete := bytes.LastIndexByte(data, '\n') + 1
	s.writeMu.Lock()
	s.tornAt = -1
	if complete < len(data) {
		s.tornAt = int64(complete)
	}
	s.writeMu.Unlock()

	var entries []Entry
	s.skipped = 0
	if complete < len(data) {
		s.skipped++
	}

	cr := csv.NewReader(bytes.NewReader(data[:complete]))
	cr.FieldsPerRecord = -1
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.skipped++
				continue
			}
			return nil, &PersistenceError{Path: s.path, Op: "parse", Err: err}
		}
		if first {
			first = false
			if len(fields) > 0 && fields[0] == Header[0] {
				continue
			}
		}

		e, ok := parseRow(fields)
		if !ok {
			s.skipped++
			continue
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// Skipped returns how many unparseable rows the last Load ignored.
func (s *CSVStore) Skipped() int {
	return s.skipped
}

func parseRow(fields []string) (Entry, bool) {
	if len(fields) != len(Header) || fields[0] == "" {
		return Entry{}, false
	}
	status, err := record.ParseStatus(fields[2])
	if err != nil || status == record.StatusPending {
		return Entry{}, false
	}
	if status == record.StatusResolved && fields[1] == "" {
		return Entry{}, false
	}
	return Entry{ID: fields[0], Result: fields[1], Status: status}, true
}

// Append opens the file, writes one row, syncs and closes it.
func (s *CSVStore) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Path: s.path, Op: "append", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.appendLocked(entry); err != nil {
		return &PersistenceError{Path: s.path, Op: "append", Err: err}
	}
	return nil
}

func (s *CSVStore) appendLocked(entry Entry) (err error) {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if s.tornAt >= 0 && s.tornAt < size {
		if err := f.Truncate(s.tornAt); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
		size = s.tornAt
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if size == 0 {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	if err := w.Write([]string{entry.ID, entry.Result, string(entry.Status)}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	s.tornAt = -1
	return nil
}

// Close is a no-op; every append releases its own handle.
func (s *CSVStore) Close() error {
	return nil
}
