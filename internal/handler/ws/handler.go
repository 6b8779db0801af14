package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/middleware"
	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/internal/service/transcript"
	"github.com/threadloom/backend/internal/store"
	"github.com/threadloom/backend/pkg/utils"
)

// Handler feeds transcript events to a live view over WebSocket and
// accepts send/refresh intents back. Each connection owns one transcript
// instance; closing the socket tears it down and discards any partial
// assistant turn.
type Handler struct {
	rec      *transcript.Reconciler
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates the WebSocket handler.
func New(rec *transcript.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{
		rec:    rec,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type outboundFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Content   string        `json:"content,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

func frame(kind, sessionID, content string, msg *chat.Message, errText string) outboundFrame {
	return outboundFrame{
		Type:      kind,
		SessionID: sessionID,
		Content:   content,
		Message:   msg,
		Error:     errText,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	tr, err := h.rec.Open(r.Context(), sessionID, identity)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAccessDenied) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer tr.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("websocket connected", zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	// Gorilla allows one concurrent writer, so the read pump funnels its
	// replies through outbound and this goroutine does all the writing.
	outbound := make(chan outboundFrame, 16)
	go h.readPump(ctx, cancel, conn, tr, sessionID, outbound)

	if err := conn.WriteJSON(frame("snapshot", sessionID, "", nil, "")); err != nil {
		return
	}

	pings := time.NewTicker(30 * time.Second)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case out := <-outbound:
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if err := conn.WriteJSON(eventFrame(ev)); err != nil {
				return
			}
		}
	}
}

func eventFrame(ev transcript.Event) outboundFrame {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	return frame(string(ev.Kind), ev.SessionID, ev.Content, ev.Message, errText)
}

func (h *Handler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, tr *transcript.Transcript, sessionID string, outbound chan<- outboundFrame) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg inboundFrame
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch msg.Type {
		case "send":
			if err := tr.Send(ctx, msg.Content); err != nil {
				h.reply(ctx, outbound, frame("error", sessionID, "", nil, err.Error()))
			}
		case "refresh":
			if err := tr.Refresh(ctx); err != nil {
				h.reply(ctx, outbound, frame("error", sessionID, "", nil, err.Error()))
			}
		default:
			h.reply(ctx, outbound, frame("error", sessionID, "", nil, "unsupported message type: "+msg.Type))
		}
	}
}

func (h *Handler) reply(ctx context.Context, outbound chan<- outboundFrame, out outboundFrame) {
	select {
	case outbound <- out:
	case <-ctx.Done():
	}
}
