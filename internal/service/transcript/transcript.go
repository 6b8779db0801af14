package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/internal/store"
)

var (
	// ErrEmptyMessage rejects blank input before any side effect.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrClosed rejects operations on a torn-down transcript.
	ErrClosed = errors.New("transcript is closed")
)

// Entry is one transcript row in the working representation. Provisional
// entries hold in-flight streamed text that is not yet durably stored.
type Entry struct {
	ID          string    `json:"id"`
	Role        chat.Role `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	Provisional bool      `json:"provisional,omitempty"`
}

// Transcript is the in-memory working copy of one open session. It is a
// projection; the message store stays authoritative. All mutations are
// serialized by an internal mutex, and a generation counter keeps a
// cancelled stream's goroutine from touching state after Refresh or
// Close moved on.
type Transcript struct {
	rec      *Reconciler
	identity chat.Identity

	base       context.Context
	cancelBase context.CancelFunc

	mu           sync.Mutex
	session      chat.Session
	entries      []Entry
	inFlight     bool
	closed       bool
	gen          int
	cancelStream context.CancelFunc
	subs         map[int]chan Event
	nextSub      int

	wg sync.WaitGroup
}

// Session returns the session metadata loaded at Open (or last Refresh).
func (t *Transcript) Session() chat.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Entries returns a copy of the working transcript, provisional entries
// included.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := make([]Entry, len(t.entries))
	copy(copied, t.entries)
	return copied
}

// Sending reports whether a completion is in flight.
func (t *Transcript) Sending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Subscribe registers an event channel. The returned cancel func
// unsubscribes and closes the channel; Close does the same for every
// remaining subscriber. Slow subscribers drop events rather than block
// the reconciler.
func (t *Transcript) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, 64)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Send persists content as a user turn, then requests a streamed
// completion against the transcript as it exists after that persist.
// Blank content is a validation error with zero side effects. While a
// completion is in flight the call is a no-op. A user-turn persistence
// failure aborts the whole send; no provider call happens.
//
// Completion progress is observed through subscribed events, not the
// return value.
func (t *Transcript) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.inFlight {
		t.mu.Unlock()
		return nil
	}
	t.inFlight = true
	gen := t.gen
	sessionID := t.session.ID
	t.mu.Unlock()

	// The user turn must be durable before the provider sees it.
	msg, err := t.rec.messages.Create(ctx, store.CreateMessageInput{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   content,
	}, t.identity)
	if err != nil {
		t.mu.Lock()
		if t.gen == gen {
			t.inFlight = false
		}
		t.mu.Unlock()
		return fmt.Errorf("failed to store user message: %w", err)
	}

	t.mu.Lock()
	if t.closed || t.gen != gen {
		// The view refreshed or closed underneath us; the store already
		// has the message and a reload will pick it up.
		t.mu.Unlock()
		return nil
	}
	t.entries = append(t.entries, Entry{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	history := t.historyLocked()
	streamCtx, cancel := context.WithCancel(t.base)
	t.cancelStream = cancel
	t.mu.Unlock()

	t.publish(Event{Kind: EventUserMessage, SessionID: sessionID, Message: &msg})

	t.wg.Add(1)
	go t.stream(streamCtx, gen, sessionID, history)
	return nil
}

// Refresh discards provisional state, cancels any in-flight completion
// and reloads session and messages from the store, making it
// authoritative again.
func (t *Transcript) Refresh(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.gen++
	if t.cancelStream != nil {
		t.cancelStream()
		t.cancelStream = nil
	}
	t.inFlight = false
	sessionID := t.session.ID
	t.mu.Unlock()

	session, err := t.rec.sessions.Get(ctx, sessionID, t.identity)
	if err != nil {
		return err
	}
	messages, err := t.rec.messages.ListBySession(ctx, sessionID, t.identity)
	if err != nil {
		return fmt.Errorf("failed to reload transcript: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.session = session
	t.entries = entriesFromMessages(messages)
	t.mu.Unlock()

	t.publish(Event{Kind: EventRefreshed, SessionID: sessionID})
	return nil
}

// Close tears the transcript down: any in-flight stream is cancelled and
// its partial text discarded, never persisted. All subscriber channels
// are closed once the stream goroutine has exited.
func (t *Transcript) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.gen++
	if t.cancelStream != nil {
		t.cancelStream()
		t.cancelStream = nil
	}
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	t.cancelBase()
	t.wg.Wait()

	for _, ch := range subs {
		close(ch)
	}
}

// stream drives one completion: buffer deltas into a provisional entry,
// then reconcile the assembled turn with the store.
func (t *Transcript) stream(ctx context.Context, gen int, sessionID string, history []chat.Message) {
	defer t.wg.Done()

	reader, err := t.rec.provider.Complete(ctx, history)
	if err != nil {
		t.failStream(gen, "", fmt.Errorf("completion request failed: %w", err))
		return
	}
	defer reader.Close()

	provisionalID := "provisional-" + uuid.NewString()
	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			t.failStream(gen, provisionalID, fmt.Errorf("completion stream failed: %w", recvErr))
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		chunks = append(chunks, chunk)
		if !t.appendDelta(gen, provisionalID, chunk.Content) {
			return
		}
		t.publish(Event{Kind: EventDelta, SessionID: sessionID, Content: chunk.Content})
	}

	final := ""
	if len(chunks) > 0 {
		merged, concatErr := schema.ConcatMessages(chunks)
		if concatErr != nil {
			t.failStream(gen, provisionalID, fmt.Errorf("failed to assemble completion: %w", concatErr))
			return
		}
		final = merged.Content
	}

	if strings.TrimSpace(final) == "" {
		// An empty completion is a no-op, not a stored message.
		if t.dropProvisional(gen, provisionalID) {
			t.publish(Event{Kind: EventCompleted, SessionID: sessionID})
		}
		return
	}

	msg, err := t.rec.messages.Create(ctx, store.CreateMessageInput{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   final,
	}, t.identity)
	if err != nil {
		// Best-effort display: the streamed text stays visible, but the
		// store does not have it and the next refresh reverts the view.
		t.rec.logger.Warn("failed to store assistant message",
			zap.String("session_id", sessionID), zap.Error(err))
		if t.keepProvisional(gen) {
			t.publish(Event{Kind: EventSaveFailed, SessionID: sessionID, Content: final, Err: err})
		}
		return
	}

	if t.reconcileProvisional(gen, provisionalID, msg) {
		t.publish(Event{Kind: EventCompleted, SessionID: sessionID, Content: final, Message: &msg})
	}
}

// historyLocked snapshots the durable entries as store messages, in
// transcript order. Provisional text never feeds a provider call.
func (t *Transcript) historyLocked() []chat.Message {
	history := make([]chat.Message, 0, len(t.entries))
	for _, entry := range t.entries {
		if entry.Provisional {
			continue
		}
		history = append(history, chat.Message{
			ID:        entry.ID,
			SessionID: t.session.ID,
			Role:      entry.Role,
			Content:   entry.Content,
			CreatedAt: entry.CreatedAt,
		})
	}
	return history
}

// appendDelta grows the provisional assistant entry. Returns false when
// the stream is stale and should stop.
func (t *Transcript) appendDelta(gen int, provisionalID, delta string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.gen != gen {
		return false
	}
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].ID == provisionalID {
			t.entries[i].Content += delta
			return true
		}
	}
	t.entries = append(t.entries, Entry{
		ID:          provisionalID,
		Role:        chat.RoleAssistant,
		Content:     delta,
		CreatedAt:   time.Now().UTC(),
		Provisional: true,
	})
	return true
}

// failStream clears provisional state after a provider failure.
func (t *Transcript) failStream(gen int, provisionalID string, err error) {
	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		return
	}
	if provisionalID != "" {
		t.removeEntryLocked(provisionalID)
	}
	t.inFlight = false
	t.cancelStream = nil
	sessionID := t.session.ID
	t.mu.Unlock()

	t.rec.logger.Warn("completion failed",
		zap.String("session_id", sessionID), zap.Error(err))
	t.publish(Event{Kind: EventFailed, SessionID: sessionID, Err: err})
}

// dropProvisional removes the provisional entry without persisting.
func (t *Transcript) dropProvisional(gen int, provisionalID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.gen != gen {
		return false
	}
	t.removeEntryLocked(provisionalID)
	t.inFlight = false
	t.cancelStream = nil
	return true
}

// keepProvisional leaves the provisional entry visible after a
// reconciliation failure.
func (t *Transcript) keepProvisional(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.gen != gen {
		return false
	}
	t.inFlight = false
	t.cancelStream = nil
	return true
}

// reconcileProvisional swaps the provisional entry for the persisted
// row.
func (t *Transcript) reconcileProvisional(gen int, provisionalID string, msg chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.gen != gen {
		return false
	}
	replaced := false
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].ID == provisionalID {
			t.entries[i] = Entry{
				ID:        msg.ID,
				Role:      msg.Role,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			}
			replaced = true
			break
		}
	}
	if !replaced {
		t.entries = append(t.entries, Entry{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	t.inFlight = false
	t.cancelStream = nil
	return true
}

func (t *Transcript) removeEntryLocked(id string) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// publish fans an event out to subscribers. Sends never block; a full
// subscriber loses the event.
func (t *Transcript) publish(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.rec.logger.Warn("dropping transcript event",
				zap.String("session_id", ev.SessionID), zap.String("kind", string(ev.Kind)))
		}
	}
}
