package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/internal/store"
)

// ErrTitleRequired rejects a rename to a blank title.
var ErrTitleRequired = errors.New("title is required")

// DefaultTitle is used when a session is created without one.
const DefaultTitle = "New Session"

// Service is the thin session-orchestration layer over the stores.
type Service struct {
	sessions store.SessionStore
	messages store.MessageStore
	logger   *zap.Logger
}

// New creates the session service.
func New(sessions store.SessionStore, messages store.MessageStore, logger *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		messages: messages,
		logger:   logger,
	}
}

// List returns the identity's sessions with last-message projections,
// newest first.
func (s *Service) List(ctx context.Context, identity chat.Identity) ([]chat.SessionSummary, error) {
	return s.sessions.List(ctx, identity)
}

// Create provisions a new session owned by identity.
func (s *Service) Create(ctx context.Context, identity chat.Identity, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	session, err := s.sessions.Create(ctx, store.CreateSessionInput{
		OwnerID: identity.Subject,
		Title:   title,
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", session.ID), zap.String("owner", identity.Subject))
	return session, nil
}

// Get returns the session and its full message history.
func (s *Service) Get(ctx context.Context, sessionID string, identity chat.Identity) (chat.Session, []chat.Message, error) {
	session, err := s.sessions.Get(ctx, sessionID, identity)
	if err != nil {
		return chat.Session{}, nil, err
	}

	messages, err := s.messages.ListBySession(ctx, sessionID, identity)
	if err != nil {
		return chat.Session{}, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return session, messages, nil
}

// Rename updates the session title.
func (s *Service) Rename(ctx context.Context, sessionID, title string, identity chat.Identity) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}
	return s.sessions.Rename(ctx, sessionID, title, identity)
}

// Delete removes the session and its message log.
func (s *Service) Delete(ctx context.Context, sessionID string, identity chat.Identity) error {
	if err := s.messages.DeleteBySession(ctx, sessionID, identity); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID, identity); err != nil {
		return err
	}

	s.logger.Info("session deleted",
		zap.String("session_id", sessionID), zap.String("owner", identity.Subject))
	return nil
}
