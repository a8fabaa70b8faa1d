package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"profile2site/internal/record"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store as an append-only SQLite table
type SQLiteStore struct {
	db      *sql.DB
	path    string
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite snapshot store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &PersistenceError{Path: dbPath, Op: "open", Err: err}
	}

	// One writer at a time; entries must land in append order.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, &PersistenceError{Path: dbPath, Op: "create tables", Err: err}
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshot (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_identifier ON snapshot(identifier);
	`

	_, err := s.db.Exec(query)
	return err
}

// Load returns all entries ordered by insertion
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	if s.closed {
		return nil, &PersistenceError{Path: s.path, Op: "load", Err: fmt.Errorf("database store is closed")}
	}

	var entries []Entry
	err := s.retryOnBusy(func() error {
		var err error
		entries, err = s.loadInternal(ctx)
		return err
	})
	if err != nil {
		return nil, &PersistenceError{Path: s.path, Op: "load", Err: err}
	}
	return entries, nil
}

func (s *SQLiteStore) loadInternal(ctx context.Context) ([]Entry, error) {
	query := `
	SELECT identifier, result, status, attempts, last_error, recorded_at
	FROM snapshot ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		var lastError sql.NullString

		if err := rows.Scan(&e.ID, &e.Result, &status, &e.Attempts, &lastError, &e.RecordedAt); err != nil {
			return nil, err
		}
		st, err := record.ParseStatus(status)
		if err != nil || st == record.StatusPending {
			continue
		}
		e.Status = st
		if lastError.Valid {
			e.LastError = lastError.String
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Append inserts one entry in its own transaction
func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	if s.closed {
		return &PersistenceError{Path: s.path, Op: "append", Err: fmt.Errorf("database store is closed")}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.retryOnBusy(func() error {
		return s.appendWithTransaction(ctx, entry)
	})
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "append", Err: err}
	}
	return nil
}

func (s *SQLiteStore) appendWithTransaction(ctx context.Context, entry Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO snapshot (identifier, result, status, attempts, last_error, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		entry.ID,
		entry.Result,
		string(entry.Status),
		entry.Attempts,
		entry.LastError,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		delay := baseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(attempt*10) * time.Millisecond
		time.Sleep(delay + jitter)
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
