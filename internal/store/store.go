// Package store persists conversation sessions and long-term user facts in a
// local sqlite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"seven/internal/logging"
)

// Store is a sqlite-backed session and memory store. The mutex serializes
// writes; sqlite handles its own durability.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Turn is one persisted dialogue turn.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Session is one conversation's metadata.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Turns     int
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(session_id, seq),
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);

CREATE TABLE IF NOT EXISTS facts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	fact        TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, fact)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id);
`

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logging.Store("opened database at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateSession opens a new session for the user and returns its ID.
func (s *Store) CreateSession(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT INTO sessions (id, user_id) VALUES (?, ?)", id, userID,
	); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	logging.StoreDebug("created session %s for %s", id, userID)
	return id, nil
}

// AppendTurn appends one turn to a session, assigning the next sequence
// number.
func (s *Store) AppendTurn(sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO messages (session_id, seq, role, content)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?)`,
		sessionID, sessionID, role, content,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// History returns a session's turns in order.
func (s *Store) History(sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// LatestSession returns the most recent session for the user, or ok=false
// when the user has none.
func (s *Store) LatestSession(userID string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT s.id, s.user_id, s.created_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s WHERE s.user_id = ?
		 ORDER BY s.created_at DESC, s.rowid DESC LIMIT 1`, userID,
	)
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.Turns)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// AddFact stores one long-term fact for the user. Duplicates are ignored.
func (s *Store) AddFact(userID, fact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO facts (user_id, fact) VALUES (?, ?)", userID, fact,
	)
	if err != nil {
		return fmt.Errorf("add fact: %w", err)
	}
	return nil
}

// Facts returns the user's long-term facts, oldest first.
func (s *Store) Facts(userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT fact FROM facts WHERE user_id = ? ORDER BY id ASC", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ClearFacts deletes every fact for the user, returning how many were
// removed.
func (s *Store) ClearFacts(userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM facts WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("clear facts: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("cleared %d facts for %s", n, userID)
	return n, nil
}
