package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadloom/backend/internal/model/chat"
)

// Memory keeps sessions and messages in process memory. It backs tests
// and storage-less development runs; semantics match the SQLite store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sessions returns the SessionStore view of the store.
func (m *Memory) Sessions() SessionStore {
	return &memorySessions{m: m}
}

// Messages returns the MessageStore view of the store.
func (m *Memory) Messages() MessageStore {
	return &memoryMessages{m: m}
}

// checkOwnerLocked assumes at least a read lock is held.
func (m *Memory) checkOwnerLocked(sessionID string, identity chat.Identity) error {
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if session.OwnerID != identity.Subject {
		return ErrAccessDenied
	}
	return nil
}

type memorySessions struct {
	m *Memory
}

func (s *memorySessions) Create(_ context.Context, input CreateSessionInput) (chat.Session, error) {
	now := s.m.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Title:     input.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.m.mu.Lock()
	s.m.sessions[session.ID] = session
	s.m.messages[session.ID] = make([]chat.Message, 0, 16)
	s.m.mu.Unlock()

	return session, nil
}

func (s *memorySessions) Get(_ context.Context, sessionID string, identity chat.Identity) (chat.Session, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	if err := s.m.checkOwnerLocked(sessionID, identity); err != nil {
		return chat.Session{}, err
	}
	return s.m.sessions[sessionID], nil
}

func (s *memorySessions) List(_ context.Context, identity chat.Identity) ([]chat.SessionSummary, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	summaries := make([]chat.SessionSummary, 0, len(s.m.sessions))
	for _, session := range s.m.sessions {
		if session.OwnerID != identity.Subject {
			continue
		}
		summary := chat.SessionSummary{Session: session}
		if msgs := s.m.messages[session.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			summary.LastMessage = last.Content
			at := last.CreatedAt
			summary.LastMessageAt = &at
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (s *memorySessions) Rename(_ context.Context, sessionID, title string, identity chat.Identity) (chat.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if err := s.m.checkOwnerLocked(sessionID, identity); err != nil {
		return chat.Session{}, err
	}

	session := s.m.sessions[sessionID]
	session.Title = title
	session.UpdatedAt = s.m.now()
	s.m.sessions[sessionID] = session
	return session, nil
}

func (s *memorySessions) Delete(_ context.Context, sessionID string, identity chat.Identity) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if err := s.m.checkOwnerLocked(sessionID, identity); err != nil {
		return err
	}
	delete(s.m.sessions, sessionID)
	delete(s.m.messages, sessionID)
	return nil
}

type memoryMessages struct {
	m *Memory
}

func (s *memoryMessages) ListBySession(_ context.Context, sessionID string, identity chat.Identity) ([]chat.Message, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	if err := s.m.checkOwnerLocked(sessionID, identity); err != nil {
		return nil, err
	}

	messages := s.m.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *memoryMessages) Create(_ context.Context, input CreateMessageInput, identity chat.Identity) (chat.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if err := s.m.checkOwnerLocked(input.SessionID, identity); err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		Role:      input.Role,
		Content:   input.Content,
		CreatedAt: s.m.now(),
	}
	s.m.messages[input.SessionID] = append(s.m.messages[input.SessionID], msg)
	return msg, nil
}

func (s *memoryMessages) DeleteBySession(_ context.Context, sessionID string, identity chat.Identity) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if err := s.m.checkOwnerLocked(sessionID, identity); err != nil {
		return err
	}
	s.m.messages[sessionID] = s.m.messages[sessionID][:0]
	return nil
}

var (
	_ SessionStore = (*memorySessions)(nil)
	_ MessageStore = (*memoryMessages)(nil)
)
