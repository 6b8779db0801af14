package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/model/chat"
	aiService "github.com/threadloom/backend/internal/service/ai"
	"github.com/threadloom/backend/pkg/utils"
)

// Handler exposes a stateless completion endpoint: the caller supplies
// the full transcript and receives the assistant turn as an
// incrementally flushed text body. Nothing is persisted here.
type Handler struct {
	provider aiService.Provider
	logger   *zap.Logger
}

// New creates the chat handler.
func New(provider aiService.Provider, logger *zap.Logger) *Handler {
	return &Handler{provider: provider, logger: logger}
}

// RegisterRoutes mounts the completion route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleComplete)
}

type completeRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload completeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Messages) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "messages array is required")
		return
	}

	// Blank turns never reach a model.
	history := make([]chat.Message, 0, len(payload.Messages))
	for _, msg := range payload.Messages {
		m := chat.Message{Role: chat.Role(msg.Role), Content: msg.Content}
		if m.Empty() || !m.Role.Valid() {
			continue
		}
		history = append(history, m)
	}
	if len(history) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "no valid messages provided")
		return
	}

	stream, err := h.provider.Complete(r.Context(), history)
	if err != nil {
		h.logger.Error("completion request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return
		}
		if recvErr != nil {
			// Headers are gone; all we can do is cut the stream short.
			h.logger.Warn("completion stream failed mid-body", zap.Error(recvErr))
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if _, err := fmt.Fprint(w, chunk.Content); err != nil {
			return
		}
		flusher.Flush()
	}
}
