package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/threadloom/backend/internal/model/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// SQLite backs both stores with a single database file. Timestamps are
// stored as unix nanoseconds so retrieval order matches append order
// exactly, with rowid as the tiebreaker.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary creates) the database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Sessions returns the SessionStore view of the database.
func (s *SQLite) Sessions() SessionStore {
	return &sqliteSessions{db: s.db}
}

// Messages returns the MessageStore view of the database.
func (s *SQLite) Messages() MessageStore {
	return &sqliteMessages{db: s.db}
}

// sqliteCheckOwner verifies the session exists and belongs to identity.
func sqliteCheckOwner(ctx context.Context, db *sql.DB, sessionID string, identity chat.Identity) error {
	var owner string
	err := db.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up session owner: %w", err)
	}
	if owner != identity.Subject {
		return ErrAccessDenied
	}
	return nil
}

type sqliteSessions struct {
	db *sql.DB
}

func (s *sqliteSessions) Create(ctx context.Context, input CreateSessionInput) (chat.Session, error) {
	now := time.Now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Title:     input.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

func (s *sqliteSessions) Get(ctx context.Context, sessionID string, identity chat.Identity) (chat.Session, error) {
	var (
		session              chat.Session
		createdNs, updatedNs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&session.ID, &session.OwnerID, &session.Title, &createdNs, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if session.OwnerID != identity.Subject {
		return chat.Session{}, ErrAccessDenied
	}

	session.CreatedAt = time.Unix(0, createdNs).UTC()
	session.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return session, nil
}

func (s *sqliteSessions) List(ctx context.Context, identity chat.Identity) ([]chat.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.title, s.created_at, s.updated_at, m.content, m.created_at
		FROM sessions s
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages
			WHERE session_id = s.id
			ORDER BY created_at DESC, rowid DESC
			LIMIT 1
		)
		WHERE s.user_id = ?
		ORDER BY s.created_at DESC, s.rowid DESC`, identity.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := make([]chat.SessionSummary, 0, 16)
	for rows.Next() {
		var (
			summary              chat.SessionSummary
			createdNs, updatedNs int64
			lastContent          sql.NullString
			lastCreatedNs        sql.NullInt64
		)
		if err := rows.Scan(&summary.ID, &summary.OwnerID, &summary.Title,
			&createdNs, &updatedNs, &lastContent, &lastCreatedNs); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		summary.CreatedAt = time.Unix(0, createdNs).UTC()
		summary.UpdatedAt = time.Unix(0, updatedNs).UTC()
		if lastContent.Valid {
			summary.LastMessage = lastContent.String
		}
		if lastCreatedNs.Valid {
			at := time.Unix(0, lastCreatedNs.Int64).UTC()
			summary.LastMessageAt = &at
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return summaries, nil
}

func (s *sqliteSessions) Rename(ctx context.Context, sessionID, title string, identity chat.Identity) (chat.Session, error) {
	if err := sqliteCheckOwner(ctx, s.db, sessionID, identity); err != nil {
		return chat.Session{}, err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, now.UnixNano(), sessionID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to update session title: %w", err)
	}
	return s.Get(ctx, sessionID, identity)
}

func (s *sqliteSessions) Delete(ctx context.Context, sessionID string, identity chat.Identity) error {
	if err := sqliteCheckOwner(ctx, s.db, sessionID, identity); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type sqliteMessages struct {
	db *sql.DB
}

func (s *sqliteMessages) ListBySession(ctx context.Context, sessionID string, identity chat.Identity) ([]chat.Message, error) {
	if err := sqliteCheckOwner(ctx, s.db, sessionID, identity); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 32)
	for rows.Next() {
		var (
			msg       chat.Message
			role      string
			createdNs int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdNs); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = time.Unix(0, createdNs).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return messages, nil
}

func (s *sqliteMessages) Create(ctx context.Context, input CreateMessageInput, identity chat.Identity) (chat.Message, error) {
	if err := sqliteCheckOwner(ctx, s.db, input.SessionID, identity); err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		Role:      input.Role,
		Content:   input.Content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt.UnixNano())
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

func (s *sqliteMessages) DeleteBySession(ctx context.Context, sessionID string, identity chat.Identity) error {
	if err := sqliteCheckOwner(ctx, s.db, sessionID, identity); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

var (
	_ SessionStore = (*sqliteSessions)(nil)
	_ MessageStore = (*sqliteMessages)(nil)
)
