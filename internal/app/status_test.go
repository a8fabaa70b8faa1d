package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"profile2site/internal/checkpoint"
	"profile2site/internal/record"
)

func TestWriteStatusListsFailures(t *testing.T) {
	a, bID, c := profile("a"), profile("b"), profile("c")
	cfg := testConfig(t, a, bID, c)

	snap := checkpoint.NewCSVStore(cfg.SnapshotPath)
	require.NoError(t, snap.Append(context.Background(), checkpoint.Entry{ID: a, Result: "a.com", Status: record.StatusResolved}))
	require.NoError(t, snap.Append(context.Background(), checkpoint.Entry{ID: bID, Status: record.StatusFailed}))

	loaded, err := Load(context.Background(), cfg, SnapshotRequire, zap.NewNop())
	require.NoError(t, err)
	defer loaded.Snapshot.Close()

	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, loaded))

	out := buf.String()
	assert.Contains(t, out, "total             3\n")
	assert.Contains(t, out, "resolved          1\n")
	assert.Contains(t, out, "failed            1\n")
	assert.Contains(t, out, "pending           1\n")
	assert.Contains(t, out, "  "+bID+"\n")
	assert.NotContains(t, out, "  "+c+"\n")
}

func TestLoadReportsMalformedInput(t *testing.T) {
	cfg := testConfig(t)
	cfg.InputPath = cfg.InputPath + ".missing"

	_, err := Load(context.Background(), cfg, SnapshotCreate, zap.NewNop())
	var merr *record.MalformedInputError
	assert.ErrorAs(t, err, &merr)
}

func TestReadOnlyLoadLeavesSQLiteSnapshotUncreated(t *testing.T) {
	cfg := testConfig(t, profile("a"), profile("b"))
	cfg.SnapshotBackend = checkpoint.BackendSQLite
	cfg.SnapshotPath = cfg.SnapshotPath + ".db"

	loaded, err := Load(context.Background(), cfg, SnapshotReadOnly, zap.NewNop())
	require.NoError(t, err)
	defer loaded.Snapshot.Close()

	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, loaded))
	assert.Contains(t, buf.String(), "pending           2\n")

	_, err = os.Stat(cfg.SnapshotPath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
