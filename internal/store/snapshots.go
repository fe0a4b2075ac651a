// Package store persists visual-summary snapshots to a local sqlite
// database. It is the persistence collaborator of the research-session
// reducer: sessions the client never witnessed live are rehydrated from
// here instead of replaying their event stream.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"studynerd/internal/logging"
	"studynerd/internal/research"
)

// SnapshotStore is a mutex-guarded sqlite store of per-round visual
// summaries, keyed by (session_id, round_no).
type SnapshotStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// SessionRecord summarizes one stored session for listing.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	Rounds    int       `json:"rounds"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open opens (creating if needed) the snapshot database at path and
// applies migrations.
func Open(path string) (*SnapshotStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db: %w", err)
	}

	s := &SnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Snapshot store opened: %s", path)
	return s, nil
}

// migrate creates the schema. Idempotent.
func (s *SnapshotStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS visual_summaries (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			round_no     INTEGER NOT NULL,
			summary_json TEXT NOT NULL,
			updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, round_no)
		);
		CREATE INDEX IF NOT EXISTS idx_visual_summaries_session
			ON visual_summaries(session_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate snapshot store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveVisualSummary persists the snapshot for one round.
// Uses INSERT OR REPLACE so re-saving a round is idempotent.
func (s *SnapshotStore) SaveVisualSummary(sessionID string, roundNo int, snap *research.VisualSummary) error {
	if sessionID == "" || snap == nil {
		return fmt.Errorf("session id and snapshot required")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Saving visual summary: session=%s round=%d size=%d", sessionID, roundNo, len(data))

	_, err = s.db.Exec(
		`INSERT INTO visual_summaries (id, session_id, round_no, summary_json, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id, round_no) DO UPDATE SET
		   summary_json = excluded.summary_json,
		   updated_at = CURRENT_TIMESTAMP`,
		uuid.NewString(), sessionID, roundNo, string(data),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save visual summary: session=%s round=%d: %v", sessionID, roundNo, err)
		return err
	}
	return nil
}

// LoadVisualSummary loads the snapshot for one round. Returns (nil, nil)
// when no snapshot exists.
func (s *SnapshotStore) LoadVisualSummary(sessionID string, roundNo int) (*research.VisualSummary, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadVisualSummary")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(
		`SELECT summary_json FROM visual_summaries WHERE session_id = ? AND round_no = ?`,
		sessionID, roundNo,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap research.VisualSummary
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for session=%s round=%d: %w", sessionID, roundNo, err)
	}
	return &snap, nil
}

// ListRounds returns the round numbers stored for a session, ascending.
func (s *SnapshotStore) ListRounds(sessionID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT round_no FROM visual_summaries WHERE session_id = ? ORDER BY round_no ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			continue
		}
		rounds = append(rounds, n)
	}
	return rounds, rows.Err()
}

// ListSessions returns one record per stored session, most recent first.
func (s *SnapshotStore) ListSessions() ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, COUNT(*) AS rounds, MAX(updated_at) AS updated
		 FROM visual_summaries
		 GROUP BY session_id
		 ORDER BY updated DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var updated string
		// MAX() strips the column's TIMESTAMP decltype, so the driver
		// hands the aggregate back as text; parse it ourselves.
		if err := rows.Scan(&rec.SessionID, &rec.Rounds, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", updated); err == nil {
			rec.UpdatedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes every stored round of a session.
func (s *SnapshotStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM visual_summaries WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		logging.StoreDebug("Deleted session %s (%d rounds)", sessionID, n)
	}
	return nil
}
