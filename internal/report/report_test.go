package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile2site/internal/record"
)

func TestWriteInInputOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	records := []record.Record{
		{ID: "A", Status: record.StatusResolved, Result: "a.com"},
		{ID: "B", Status: record.StatusFailed, Result: "ignored"},
		{ID: "C,x", Status: record.StatusPending},
	}
	require.NoError(t, Write(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "identifier,result,status\nA,a.com,resolved\nB,,failed\n\"C,x\",,pending\n", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	records := []record.Record{{ID: "A", Status: record.StatusResolved, Result: "a.com"}}

	require.NoError(t, Write(filepath.Join(dir, "1.csv"), records))
	require.NoError(t, Write(filepath.Join(dir, "2.csv"), records))

	a, err := os.ReadFile(filepath.Join(dir, "1.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "2.csv"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWriteFailureLeavesNoTemp(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "out.csv"), nil)
	assert.Error(t, err)
}
