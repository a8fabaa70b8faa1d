package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Backends accepted by Open
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// ErrSnapshotMissing is returned by Open when mustExist is set and there is no snapshot yet.
var ErrSnapshotMissing = errors.New("progress snapshot does not exist")

// Open returns the snapshot store for backend at path.
func Open(backend, path string, mustExist bool) (Store, error) {
	if mustExist {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, path)
			}
			return nil, &PersistenceError{Path: path, Op: "stat", Err: err}
		}
	}

	switch backend {
	case BackendCSV:
		return NewCSVStore(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", backend)
	}
}

// OpenExisting returns the store at path for reading. When there is no snapshot yet it
// returns an empty store that creates nothing on disk and rejects appends.
func OpenExisting(backend, path string) (Store, error) {
	s, err := Open(backend, path, true)
	if errors.Is(err, ErrSnapshotMissing) {
		return emptyStore{path: path}, nil
	}
	return s, err
}

type emptyStore struct {
	path string
}

func (emptyStore) Load(ctx context.Context) ([]Entry, error) {
	return nil, ctx.Err()
}

func (s emptyStore) Append(ctx context.Context, entry Entry) error {
	return &PersistenceError{Path: s.path, Op: "append", Err: ErrSnapshotMissing}
}

func (emptyStore) Close() error {
	return nil
}
