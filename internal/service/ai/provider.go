package ai

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/threadloom/backend/internal/model/chat"
)

// Provider produces one assistant turn for an ordered transcript. The
// returned stream is finite: it ends with io.EOF on success or an error
// otherwise. Callers must persist only on clean completion; the provider
// makes no partial-persistence guarantee.
type Provider interface {
	Complete(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// historyToSchema maps stored messages into eino schema messages,
// dropping blank turns so they never reach a model.
func historyToSchema(history []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg.Empty() {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return out
}
