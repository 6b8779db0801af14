package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/config"
	"github.com/threadloom/backend/internal/model/chat"
)

// ErrNoUserTurn is returned when the transcript ends without a user
// message to complete against.
var ErrNoUserTurn = errors.New("transcript has no trailing user message")

// ArkProvider streams completions from an Ark-hosted model through an
// eino prompt-template -> chat-model chain.
type ArkProvider struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	logger       *zap.Logger
}

// NewArkProvider compiles the chat chain for the configured Ark model.
func NewArkProvider(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*ArkProvider, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkProvider{
		chain:        runnable,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}, nil
}

// Complete streams the assistant turn for the ordered history. The last
// message must be the user turn being answered.
func (p *ArkProvider) Complete(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	query, prior, err := splitQuery(history)
	if err != nil {
		return nil, err
	}

	stream, err := p.chain.Stream(ctx, map[string]any{
		"system":  p.systemPrompt,
		"history": historyToSchema(prior),
		"query":   query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream chain output: %w", err)
	}

	p.logger.Debug("ark completion started", zap.Int("history", len(prior)))
	return stream, nil
}

// splitQuery peels the trailing user message off the transcript; the
// chain template carries it separately from the history placeholder.
func splitQuery(history []chat.Message) (string, []chat.Message, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Empty() {
			continue
		}
		if history[i].Role != chat.RoleUser {
			return "", nil, ErrNoUserTurn
		}
		return history[i].Content, history[:i], nil
	}
	return "", nil, ErrNoUserTurn
}

var _ Provider = (*ArkProvider)(nil)
