package record

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(ids ...string) []Row {
	out := make([]Row, len(ids))
	for i, id := range ids {
		out[i] = Row{ID: id, Line: i + 2}
	}
	return out
}

func drain(s *Store) []string {
	var ids []string
	for {
		r, ok := s.NextPending()
		if !ok {
			return ids
		}
		ids = append(ids, r.ID)
	}
}

func TestLoadFreshInput(t *testing.T) {
	s, err := Load(rows("A", "B", "C"), nil)
	require.NoError(t, err)

	assert.Equal(t, Counts{Total: 3, Pending: 3}, s.Counts())
	assert.Equal(t, []string{"A", "B", "C"}, drain(s))

	r, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", r.Target, "target defaults to the identifier")
}

func TestLoadExcludesResolvedAndKeepsFailed(t *testing.T) {
	outcomes := []Outcome{
		{ID: "A", Result: "a.com", Status: StatusResolved},
		{ID: "C", Status: StatusFailed},
		{ID: "Z", Result: "z.com", Status: StatusResolved},
	}
	s, err := Load(rows("A", "B", "C", "D"), outcomes)
	require.NoError(t, err)

	assert.Equal(t, Counts{Total: 4, Pending: 2, Resolved: 1, Failed: 1}, s.Counts())
	assert.Equal(t, []string{"B", "D"}, drain(s))
	assert.Equal(t, 1, s.Orphans())

	a, _ := s.Get("A")
	assert.Equal(t, "a.com", a.Result)
}

func TestLoadLastOutcomeWins(t *testing.T) {
	outcomes := []Outcome{
		{ID: "A", Status: StatusFailed},
		{ID: "A", Result: "a.com", Status: StatusResolved},
	}
	s, err := Load(rows("A"), outcomes)
	require.NoError(t, err)

	a, _ := s.Get("A")
	assert.Equal(t, StatusResolved, a.Status)
	assert.Equal(t, "a.com", a.Result)
}

func TestLoadDeduplicatesInput(t *testing.T) {
	s, err := Load(rows("A", "B", "A", "B", "C"), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Counts().Total)
	assert.Equal(t, 2, s.Duplicates())
	assert.Equal(t, []string{"A", "B", "C"}, drain(s))
}

func TestLoadRejectsMissingIdentifier(t *testing.T) {
	_, err := Load([]Row{{ID: "A", Line: 2}, {ID: "  ", Line: 3}}, nil)
	require.Error(t, err)

	var malformed *MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 3, malformed.Line)
}

func TestMarkIsIdempotent(t *testing.T) {
	s, err := Load(rows("A", "B"), nil)
	require.NoError(t, err)

	assert.True(t, s.MarkResolved("A", "a.com", 1))
	assert.False(t, s.MarkResolved("A", "other.com", 2), "second resolve is a no-op")
	assert.False(t, s.MarkFailed("A", 3), "resolved never moves to failed")
	assert.False(t, s.MarkResolved("missing", "x", 1))

	a, _ := s.Get("A")
	assert.Equal(t, "a.com", a.Result)
	assert.Equal(t, 1, a.Attempts)

	assert.True(t, s.MarkFailed("B", 3))
	assert.False(t, s.MarkResolved("B", "b.com", 1), "failed never moves to resolved in a run")
}

func TestResetFailed(t *testing.T) {
	s, err := Load(rows("A", "B", "C"), []Outcome{
		{ID: "B", Status: StatusFailed},
		{ID: "C", Result: "c.com", Status: StatusResolved},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, drain(s))

	assert.Equal(t, 1, s.ResetFailed())
	assert.Equal(t, []string{"B"}, drain(s), "A was already handed out")
}

func TestNextPendingConcurrent(t *testing.T) {
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	s, err := Load(rows(ids...), nil)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, ok := s.NextPending()
				if !ok {
					return
				}
				mu.Lock()
				seen[r.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s handed out more than once", id)
	}
}
