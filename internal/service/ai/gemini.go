package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/threadloom/backend/internal/config"
	"github.com/threadloom/backend/internal/model/chat"
)

// GeminiProvider streams completions from the Gemini API, bridged into
// the same stream currency the rest of the service consumes.
type GeminiProvider struct {
	client       *genai.Client
	model        string
	temperature  *float64
	systemPrompt string
	logger       *zap.Logger
}

// NewGeminiProvider builds a Gemini-backed provider from configuration.
func NewGeminiProvider(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		model:        cfg.GeminiModel,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}, nil
}

// Complete streams the assistant turn for the ordered history.
func (p *GeminiProvider) Complete(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		if msg.Empty() {
			continue
		}
		role := genai.RoleUser
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.Role(role)))
	}
	if len(contents) == 0 {
		return nil, ErrNoUserTurn
	}

	genCfg := &genai.GenerateContentConfig{}
	if p.temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*p.temperature))
	}
	if p.systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(p.systemPrompt, genai.RoleUser)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, genCfg) {
			if err != nil {
				sw.Send(nil, fmt.Errorf("gemini stream failed: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if closed := sw.Send(schema.AssistantMessage(text, nil), nil); closed {
				return
			}
		}
	}()

	p.logger.Debug("gemini completion started",
		zap.String("model", p.model), zap.Int("contents", len(contents)))
	return sr, nil
}

var _ Provider = (*GeminiProvider)(nil)
