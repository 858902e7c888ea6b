// Package store persists verification outcomes in a local sqlite database.
//
// The archive is an append-only history used for reporting, not for control
// flow: the loop never reads it to make decisions, so every write is
// best-effort and the loop tolerates a missing or broken archive.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ralphloop/internal/logging"
)

// Outcome is one recorded verification attempt.
type Outcome struct {
	ID         int64
	SessionID  string
	Iteration  int
	Passed     bool
	ExitCode   int
	Method     string // "in-context" or "spawn"
	TimedOut   bool
	CostUSD    float64
	DurationMS int64
	CreatedAt  time.Time
}

// Totals aggregates the archive for reporting.
type Totals struct {
	Sessions  int
	Attempts  int
	Passed    int
	Spawns    int
	TotalCost float64
	TotalTime time.Duration
}

// Archive is a handle over the outcomes database. Safe for concurrent use;
// sqlite serializes writers via busy_timeout.
type Archive struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	iteration   INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	exit_code   INTEGER NOT NULL,
	method      TEXT NOT NULL,
	timed_out   INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_outcomes_session ON outcomes(session_id);
`

// Open opens (creating if necessary) the archive at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure archive: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordOutcome appends one outcome. Errors are logged, not returned.
func (a *Archive) RecordOutcome(o Outcome) {
	_, err := a.db.Exec(`
		INSERT INTO outcomes (session_id, iteration, passed, exit_code, method, timed_out, cost_usd, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID, o.Iteration, boolInt(o.Passed), o.ExitCode, o.Method,
		boolInt(o.TimedOut), o.CostUSD, o.DurationMS)
	if err != nil {
		logging.Store("failed to record outcome for %s: %v", o.SessionID, err)
	}
}

// SessionHistory returns all outcomes for a session, oldest first.
func (a *Archive) SessionHistory(sessionID string) ([]Outcome, error) {
	rows, err := a.db.Query(`
		SELECT id, session_id, iteration, passed, exit_code, method, timed_out, cost_usd, duration_ms, created_at
		FROM outcomes WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var passed, timedOut int
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Iteration, &passed, &o.ExitCode,
			&o.Method, &timedOut, &o.CostUSD, &o.DurationMS, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Passed = passed != 0
		o.TimedOut = timedOut != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// AggregateTotals returns archive-wide aggregates.
func (a *Archive) AggregateTotals() (Totals, error) {
	var t Totals
	var totalMS int64
	err := a.db.QueryRow(`
		SELECT COUNT(DISTINCT session_id),
		       COUNT(*),
		       COALESCE(SUM(passed), 0),
		       COALESCE(SUM(CASE WHEN method = 'spawn' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(duration_ms), 0)
		FROM outcomes`).
		Scan(&t.Sessions, &t.Attempts, &t.Passed, &t.Spawns, &t.TotalCost, &totalMS)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate totals: %w", err)
	}
	t.TotalTime = time.Duration(totalMS) * time.Millisecond
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
