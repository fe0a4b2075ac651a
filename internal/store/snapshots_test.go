package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studynerd/internal/research"
)

func openTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	snap := &research.VisualSummary{
		Plan:      map[string]any{"goal": "g"},
		SummaryMD: "summary",
		SubAgents: []research.SummarySubAgent{{SubID: 1, Query: "a", SummaryMD: "sa"}},
	}
	require.NoError(t, s.SaveVisualSummary("s1", 1, snap))

	got, err := s.LoadVisualSummary("s1", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "summary", got.SummaryMD)
	require.Len(t, got.SubAgents, 1)
	assert.Equal(t, "a", got.SubAgents[0].Query)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LoadVisualSummary("nope", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveOverwritesSameRound(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveVisualSummary("s1", 1, &research.VisualSummary{SummaryMD: "v1"}))
	require.NoError(t, s.SaveVisualSummary("s1", 1, &research.VisualSummary{SummaryMD: "v2"}))

	got, err := s.LoadVisualSummary("s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.SummaryMD)

	rounds, err := s.ListRounds("s1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rounds)
}

func TestSaveRequiresIdentityAndSnapshot(t *testing.T) {
	s := openTestStore(t)

	assert.Error(t, s.SaveVisualSummary("", 1, &research.VisualSummary{}))
	assert.Error(t, s.SaveVisualSummary("s1", 1, nil))
}

func TestListRoundsAscending(t *testing.T) {
	s := openTestStore(t)

	for _, n := range []int{3, 1, 2} {
		require.NoError(t, s.SaveVisualSummary("s1", n, &research.VisualSummary{SummaryMD: "x"}))
	}

	rounds, err := s.ListRounds("s1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, rounds)
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveVisualSummary("s1", 1, &research.VisualSummary{SummaryMD: "x"}))
	require.NoError(t, s.SaveVisualSummary("s1", 2, &research.VisualSummary{SummaryMD: "x"}))
	require.NoError(t, s.SaveVisualSummary("s2", 1, &research.VisualSummary{SummaryMD: "x"}))

	recs, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byID := make(map[string]int)
	for _, rec := range recs {
		byID[rec.SessionID] = rec.Rounds
		// The aggregated timestamp must survive the scan.
		assert.False(t, rec.UpdatedAt.IsZero(), "updated_at not decoded for %s", rec.SessionID)
	}
	assert.Equal(t, 2, byID["s1"])
	assert.Equal(t, 1, byID["s2"])
}

func TestDeleteSession(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveVisualSummary("s1", 1, &research.VisualSummary{SummaryMD: "x"}))
	require.NoError(t, s.SaveVisualSummary("s2", 1, &research.VisualSummary{SummaryMD: "x"}))

	require.NoError(t, s.DeleteSession("s1"))

	got, err := s.LoadVisualSummary("s1", 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	other, err := s.LoadVisualSummary("s2", 1)
	require.NoError(t, err)
	assert.NotNil(t, other)
}
