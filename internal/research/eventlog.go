package research

const (
	// maxLiveLogEntries bounds the raw event log while a session runs.
	// Oldest entries are dropped first; derived state (round views,
	// sub-agents, artifacts) is maintained independently, so trimming
	// only shortens the replay/debug trail.
	maxLiveLogEntries = 2000

	// maxArchivedLogEntries is the tighter cap applied once a session
	// reaches a terminal event, independent of the running cap.
	maxArchivedLogEntries = 100
)

// eventLog is the append-only raw event buffer kept for timeline display.
// Entries are never mutated, only appended or bulk-trimmed.
type eventLog struct {
	entries []Event
}

func (l *eventLog) append(evt Event) {
	l.entries = append(l.entries, evt)
	if len(l.entries) > maxLiveLogEntries {
		l.trimTo(maxLiveLogEntries)
	}
}

// trimTo keeps the most recent n entries (drop-oldest).
func (l *eventLog) trimTo(n int) {
	if len(l.entries) <= n {
		return
	}
	kept := make([]Event, n)
	copy(kept, l.entries[len(l.entries)-n:])
	l.entries = kept
}

func (l *eventLog) clear() {
	l.entries = nil
}
