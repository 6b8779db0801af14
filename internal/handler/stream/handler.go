package stream

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/middleware"
	"github.com/threadloom/backend/internal/service/transcript"
	"github.com/threadloom/backend/internal/store"
	"github.com/threadloom/backend/pkg/utils"
)

// Handler streams one send flow over Server-Sent Events: persist the
// user turn, relay completion deltas, report the reconciliation result.
type Handler struct {
	rec    *transcript.Reconciler
	logger *zap.Logger
}

// New creates the stream handler.
func New(rec *transcript.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{rec: rec, logger: logger}
}

// RegisterRoutes mounts the streaming route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
}

// StreamResponse is one SSE frame.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	tr, err := h.rec.Open(r.Context(), sessionID, identity)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAccessDenied) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer tr.Close()

	events, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})

	if err := tr.Send(r.Context(), message); err != nil {
		if errors.Is(err, transcript.ErrEmptyMessage) {
			utils.SendSSEChunk(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
			return
		}
		h.logger.Warn("send failed", zap.String("session_id", sessionID), zap.Error(err))
		utils.SendSSEChunk(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
		return
	}

	for {
		select {
		case <-r.Context().Done():
			// Client went away; Close discards the partial turn.
			return
		case ev, open := <-events:
			if !open {
				return
			}
			switch ev.Kind {
			case transcript.EventUserMessage:
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "accepted", SessionID: sessionID})
			case transcript.EventDelta:
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "delta", SessionID: sessionID, Content: ev.Content})
			case transcript.EventCompleted:
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "message", SessionID: sessionID, Content: ev.Content})
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
				h.logger.Info("stream completed", zap.String("session_id", sessionID))
				return
			case transcript.EventSaveFailed:
				// The text reached the client but not the store; say so
				// instead of pretending the turn is durable.
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "message", SessionID: sessionID, Content: ev.Content})
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "save_failed", SessionID: sessionID, Error: ev.Err.Error()})
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
				return
			case transcript.EventFailed:
				utils.SendSSEChunk(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: ev.Err.Error()})
				return
			}
		}
	}
}
