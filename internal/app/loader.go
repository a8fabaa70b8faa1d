package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"profile2site/internal/checkpoint"
	"profile2site/internal/config"
	"profile2site/internal/input"
	"profile2site/internal/record"
)

// Loaded is the record set merged with the snapshot, plus the open snapshot writer.
type Loaded struct {
	Store    *record.Store
	Snapshot checkpoint.Store
	// Entries is the number of snapshot entries read.
	Entries int
}

// SnapshotMode says how Load treats the snapshot file
type SnapshotMode int

const (
	// SnapshotCreate opens the snapshot, creating it on the first append.
	SnapshotCreate SnapshotMode = iota
	// SnapshotRequire fails with checkpoint.ErrSnapshotMissing when there is no snapshot.
	SnapshotRequire
	// SnapshotReadOnly reads the snapshot if present and never creates one.
	SnapshotReadOnly
)

func openSnapshot(cfg *config.Config, mode SnapshotMode) (checkpoint.Store, error) {
	if mode == SnapshotReadOnly {
		return checkpoint.OpenExisting(cfg.SnapshotBackend, cfg.SnapshotPath)
	}
	return checkpoint.Open(cfg.SnapshotBackend, cfg.SnapshotPath, mode == SnapshotRequire)
}

// Load reads the input file and the snapshot and merges them.
func Load(ctx context.Context, cfg *config.Config, mode SnapshotMode, logger *zap.Logger) (*Loaded, error) {
	rows, err := input.ReadFile(cfg.InputPath, input.Options{
		IDColumn:     cfg.Input.IDColumn,
		TargetColumn: cfg.Input.TargetColumn,
		NameColumn:   cfg.Input.NameColumn,
	})
	if err != nil {
		return nil, err
	}

	snapshot, err := openSnapshot(cfg, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	entries, err := snapshot.Load(ctx)
	if err != nil {
		snapshot.Close()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if csvStore, ok := snapshot.(*checkpoint.CSVStore); ok && csvStore.Skipped() > 0 {
		logger.Warn("Skipped unreadable snapshot rows", zap.Int("rows", csvStore.Skipped()))
	}

	store, err := record.Load(rows, checkpoint.Outcomes(entries))
	if err != nil {
		snapshot.Close()
		return nil, err
	}

	if n := store.Duplicates(); n > 0 {
		logger.Warn("Collapsed duplicate identifiers to their first occurrence", zap.Int("duplicates", n))
	}
	if n := store.Orphans(); n > 0 {
		logger.Info("Ignored snapshot entries not present in input", zap.Int("entries", n))
	}

	counts := store.Counts()
	logger.Info("Loaded records",
		zap.String("input", cfg.InputPath),
		zap.String("snapshot", cfg.SnapshotPath),
		zap.Int("total", counts.Total),
		zap.Int("pending", counts.Pending),
		zap.Int("resolved", counts.Resolved),
		zap.Int("failed", counts.Failed),
	)

	return &Loaded{Store: store, Snapshot: snapshot, Entries: len(entries)}, nil
}
