package store

import (
	"context"
	"errors"

	"github.com/threadloom/backend/internal/model/chat"
)

var (
	// ErrNotFound means the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAccessDenied means the session exists but belongs to a different
	// identity. Every store operation re-validates ownership before
	// touching rows; this check is the sole authorization boundary.
	ErrAccessDenied = errors.New("access denied")
)

// CreateSessionInput carries the fields callers may set on a new session.
type CreateSessionInput struct {
	OwnerID string
	Title   string
}

// CreateMessageInput carries the fields callers may set on a new message.
// The store assigns ID and CreatedAt. Blank-content filtering is the
// caller's responsibility, not the store's.
type CreateMessageInput struct {
	SessionID string
	Role      chat.Role
	Content   string
}

// SessionStore persists session metadata scoped to an owning identity.
type SessionStore interface {
	Create(ctx context.Context, input CreateSessionInput) (chat.Session, error)
	Get(ctx context.Context, sessionID string, identity chat.Identity) (chat.Session, error)
	List(ctx context.Context, identity chat.Identity) ([]chat.SessionSummary, error)
	Rename(ctx context.Context, sessionID, title string, identity chat.Identity) (chat.Session, error)
	Delete(ctx context.Context, sessionID string, identity chat.Identity) error
}

// MessageStore persists the append-only per-session message log.
type MessageStore interface {
	// ListBySession returns the session's messages in CreatedAt order.
	ListBySession(ctx context.Context, sessionID string, identity chat.Identity) ([]chat.Message, error)
	// Create appends a message, assigning its ID and timestamp.
	Create(ctx context.Context, input CreateMessageInput, identity chat.Identity) (chat.Message, error)
	// DeleteBySession removes every message in the session.
	DeleteBySession(ctx context.Context, sessionID string, identity chat.Identity) error
}
