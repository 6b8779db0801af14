package transcript

import "github.com/threadloom/backend/internal/model/chat"

// EventKind labels a transcript state change.
type EventKind string

const (
	// EventUserMessage fires after the user turn is persisted and
	// appended to the transcript.
	EventUserMessage EventKind = "user_message"
	// EventDelta fires for each streamed text increment of the
	// provisional assistant turn.
	EventDelta EventKind = "delta"
	// EventCompleted fires once the assistant turn is reconciled with
	// the store (or the completion was empty and there was nothing to
	// persist).
	EventCompleted EventKind = "completed"
	// EventFailed fires when the completion request or stream fails;
	// nothing was persisted for the assistant turn.
	EventFailed EventKind = "failed"
	// EventSaveFailed fires when the stream finished but persisting the
	// assistant turn failed. The streamed text stays visible until the
	// next refresh; the store does not have it.
	EventSaveFailed EventKind = "save_failed"
	// EventRefreshed fires after the transcript is reloaded from the
	// store.
	EventRefreshed EventKind = "refreshed"
)

// Event describes one transcript state change. Views subscribe and
// re-render on every event instead of coupling to the reconciler.
type Event struct {
	Kind      EventKind     `json:"kind"`
	SessionID string        `json:"sessionId"`
	Content   string        `json:"content,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Err       error         `json:"-"`
}
