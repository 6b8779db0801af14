package chat

import (
	"strings"
	"time"
)

// Role tags a message with its author side.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the two persisted values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one immutable turn in a session's transcript. Ordered by
// CreatedAt ascending within a session; that order is also the context
// order fed to the completion provider.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Empty reports whether the message content is blank after trimming.
// Blank messages are never persisted and never sent to a provider.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Content) == ""
}
