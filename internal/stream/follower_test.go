package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"studynerd/internal/research"
)

// collect drains n events from the follower or fails after a deadline.
func collect(t *testing.T, f *Follower, n int) []research.Event {
	t.Helper()
	var out []research.Event
	deadline := time.After(10 * time.Second)
	for len(out) < n {
		select {
		case evt, ok := <-f.Events():
			if !ok {
				t.Fatalf("events channel closed after %d of %d events", len(out), n)
			}
			out = append(out, evt)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer file.Close()
	for _, line := range lines {
		_, err := file.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func TestFollowerDrainsExistingContent(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "events.ndjson")
	appendLines(t, path,
		`{"type":"session_started","session_id":"s1"}`,
		`{"type":"round_started","round":1}`,
	)

	f, err := NewFollower(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	got := collect(t, f, 2)
	assert.Equal(t, research.EventSessionStarted, got[0].Type)
	assert.Equal(t, research.EventRoundStarted, got[1].Type)
}

func TestFollowerPicksUpAppends(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "events.ndjson")
	appendLines(t, path, `{"type":"session_started","session_id":"s1"}`)

	f, err := NewFollower(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	collect(t, f, 1)

	appendLines(t, path, `{"type":"round_started","round":1}`)
	got := collect(t, f, 1)
	assert.Equal(t, research.EventRoundStarted, got[0].Type)
	assert.Equal(t, 1, got[0].Round)
}

func TestFollowerHandlesLateFileCreation(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")

	f, err := NewFollower(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// File appears only after the follower started watching.
	time.Sleep(50 * time.Millisecond)
	appendLines(t, path, `{"type":"session_started","session_id":"s1"}`)

	got := collect(t, f, 1)
	assert.Equal(t, research.EventSessionStarted, got[0].Type)
}

func TestFollowerSkipsMalformedLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "events.ndjson")
	appendLines(t, path,
		`{broken`,
		`{"type":"round_started","round":3}`,
	)

	f, err := NewFollower(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	got := collect(t, f, 1)
	assert.Equal(t, research.EventRoundStarted, got[0].Type)
	assert.Equal(t, 3, got[0].Round)
}

func TestFollowerStopClosesEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "events.ndjson")
	appendLines(t, path, `{"type":"session_started","session_id":"s1"}`)

	f, err := NewFollower(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	collect(t, f, 1)
	f.Stop()

	select {
	case _, ok := <-f.Events():
		assert.False(t, ok, "events channel should be closed after Stop")
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after Stop")
	}

	// Stop is idempotent.
	f.Stop()
}
