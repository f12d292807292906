package drafts

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE IF NOT EXISTS draft (
		user_id         TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		body            TEXT NOT NULL,
		updated_at      INTEGER NOT NULL,
		PRIMARY KEY (user_id, conversation_id)
	)
`

// Store keeps the unsent input of each conversation across restarts.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the sqlite drafts database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create drafts directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create drafts schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the saved draft, or "" when there is none.
func (s *Store) Get(userID, conversationID string) (string, error) {
	var body string
	err := s.db.QueryRow(`
		SELECT body
		FROM draft
		WHERE user_id = ? AND conversation_id = ?
	`, userID, conversationID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query draft: %w", err)
	}
	return body, nil
}

// Save stores body as the draft; an empty body deletes it.
func (s *Store) Save(userID, conversationID, body string) error {
	if body == "" {
		return s.Delete(userID, conversationID)
	}
	_, err := s.db.Exec(`
		INSERT INTO draft (user_id, conversation_id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, conversation_id)
		DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, userID, conversationID, body, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (s *Store) Delete(userID, conversationID string) error {
	_, err := s.db.Exec(`
		DELETE FROM draft
		WHERE user_id = ? AND conversation_id = ?
	`, userID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// Conversations lists conversation ids with a pending draft for userID.
func (s *Store) Conversations(userID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id
		FROM draft
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
