package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/turnguard/turnguard/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	session_id  TEXT NOT NULL,
	turn_id     INTEGER NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	PRIMARY KEY (session_id, turn_id)
);

CREATE TABLE IF NOT EXISTS decisions (
	session_id   TEXT NOT NULL,
	turn_id      INTEGER NOT NULL,
	verdict      TEXT NOT NULL,
	reason_code  TEXT NOT NULL,
	signals_json TEXT,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (session_id, turn_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	risk         REAL NOT NULL,
	last_turn_id INTEGER NOT NULL,
	updated_at   TEXT NOT NULL
);
`

// SQLite is the durable Store. Turn history is a key-ordered append log per
// session: (session_id, turn_id) is the primary key and turn_id is enforced
// strictly increasing at commit time.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Snapshot(sessionID string) (model.SessionState, error) {
	st := model.NewSessionState(sessionID)

	row := s.db.QueryRow(
		`SELECT status, risk, last_turn_id FROM sessions WHERE session_id = ?`, sessionID)
	var status string
	err := row.Scan(&status, &st.Risk, &st.LastTurnID)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("store: load session: %w", err)
	}
	st.Status = model.SessionStatus(status)

	if err := s.loadTurns(&st); err != nil {
		return st, err
	}
	if err := s.loadDecisions(&st); err != nil {
		return st, err
	}
	if n := len(st.Decisions); n > 0 {
		d := st.Decisions[n-1]
		st.LastDecision = &d
	}
	return st, nil
}

func (s *SQLite) loadTurns(st *model.SessionState) error {
	rows, err := s.db.Query(
		`SELECT turn_id, role, content, ts FROM turns WHERE session_id = ? ORDER BY turn_id ASC`,
		st.SessionID)
	if err != nil {
		return fmt.Errorf("store: load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := model.Turn{SessionID: st.SessionID}
		var ts string
		if err := rows.Scan(&t.TurnID, &t.Role, &t.Content, &ts); err != nil {
			return fmt.Errorf("store: scan turn: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		st.Turns = append(st.Turns, t)
	}
	return rows.Err()
}

func (s *SQLite) loadDecisions(st *model.SessionState) error {
	rows, err := s.db.Query(
		`SELECT turn_id, verdict, reason_code, signals_json, created_at
		 FROM decisions WHERE session_id = ? ORDER BY turn_id ASC`,
		st.SessionID)
	if err != nil {
		return fmt.Errorf("store: load decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d model.Decision
		var signalsJSON, createdAt string
		if err := rows.Scan(&d.TurnID, &d.Verdict, &d.ReasonCode, &signalsJSON, &createdAt); err != nil {
			return fmt.Errorf("store: scan decision: %w", err)
		}
		if signalsJSON != "" {
			if err := json.Unmarshal([]byte(signalsJSON), &d.ContributingSignals); err != nil {
				return fmt.Errorf("store: decode signals: %w", err)
			}
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		st.Decisions = append(st.Decisions, d)
	}
	return rows.Err()
}

func (s *SQLite) Commit(st model.SessionState, turn model.Turn, dec model.Decision) error {
	signalsJSON, err := json.Marshal(dec.ContributingSignals)
	if err != nil {
		return fmt.Errorf("store: encode signals: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Ordering is re-checked inside the transaction; the pipeline's
	// per-session lock makes this a formality, but the store is the final
	// authority on its own invariant.
	var last int64
	row := tx.QueryRow(`SELECT last_turn_id FROM sessions WHERE session_id = ?`, st.SessionID)
	if err := row.Scan(&last); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: read last turn: %w", err)
	}
	if turn.TurnID <= last {
		return model.OutOfOrderTurn(st.SessionID, turn.TurnID, last)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.Exec(
		`INSERT INTO turns (session_id, turn_id, role, content, ts) VALUES (?, ?, ?, ?, ?)`,
		st.SessionID, turn.TurnID, string(turn.Role), turn.Content,
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("store: insert turn: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO decisions (session_id, turn_id, verdict, reason_code, signals_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.SessionID, dec.TurnID, string(dec.Verdict), dec.ReasonCode, string(signalsJSON),
		dec.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("store: insert decision: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO sessions (session_id, status, risk, last_turn_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   status = excluded.status,
		   risk = excluded.risk,
		   last_turn_id = excluded.last_turn_id,
		   updated_at = excluded.updated_at`,
		st.SessionID, string(st.Status), st.Risk, turn.TurnID, now,
	); err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLite) Sessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT s.session_id, s.status, s.risk,
		        (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.session_id)
		 FROM sessions s ORDER BY s.updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var status string
		if err := rows.Scan(&sum.SessionID, &status, &sum.Risk, &sum.TurnCount); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sum.Status = model.SessionStatus(status)
		out = append(out, sum)
	}
	return out, rows.Err()
}
