package transcript

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/internal/service/ai"
	"github.com/threadloom/backend/internal/store"
)

// Reconciler binds the stores and the completion provider and hands out
// per-view Transcript instances. It owns no per-session state itself;
// all coordination lives in the Transcript.
type Reconciler struct {
	sessions store.SessionStore
	messages store.MessageStore
	provider ai.Provider
	logger   *zap.Logger
}

// New creates a Reconciler.
func New(sessions store.SessionStore, messages store.MessageStore, provider ai.Provider, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		messages: messages,
		provider: provider,
		logger:   logger,
	}
}

// Open loads the session and its full stored history scoped to identity
// and returns a live transcript seeded from it. Blank stored messages
// are filtered out of the working copy.
//
// Each Open call returns an independent instance; the single-in-flight
// rule holds within one instance only. Two views of the same session
// may race, and the store serializes their writes.
func (r *Reconciler) Open(ctx context.Context, sessionID string, identity chat.Identity) (*Transcript, error) {
	session, err := r.sessions.Get(ctx, sessionID, identity)
	if err != nil {
		return nil, err
	}

	messages, err := r.messages.ListBySession(ctx, sessionID, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	t := &Transcript{
		rec:        r,
		session:    session,
		identity:   identity,
		entries:    entriesFromMessages(messages),
		base:       base,
		cancelBase: cancel,
		subs:       make(map[int]chan Event),
	}

	r.logger.Debug("transcript opened",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(t.entries)))
	return t, nil
}

func entriesFromMessages(messages []chat.Message) []Entry {
	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		if msg.Empty() {
			continue
		}
		entries = append(entries, Entry{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	return entries
}
