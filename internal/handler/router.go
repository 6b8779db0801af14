package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	chatHandler "github.com/threadloom/backend/internal/handler/chat"
	sessionHandler "github.com/threadloom/backend/internal/handler/session"
	streamHandler "github.com/threadloom/backend/internal/handler/stream"
	wsHandler "github.com/threadloom/backend/internal/handler/ws"
	"github.com/threadloom/backend/internal/middleware"
	"github.com/threadloom/backend/internal/service/ai"
	sessionService "github.com/threadloom/backend/internal/service/session"
	"github.com/threadloom/backend/internal/service/transcript"
	"github.com/threadloom/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. The provider and
// reconciler may be nil when no AI credentials are configured; the
// session surface keeps working and the chat routes answer 503.
func NewRouter(sessionSvc *sessionService.Service, rec *transcript.Reconciler, provider ai.Provider, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(authed chi.Router) {
			authed.Use(middleware.Identity)

			sessionHandler.New(sessionSvc).RegisterRoutes(authed)

			if rec != nil {
				streamHandler.New(rec, logger).RegisterRoutes(authed)
				wsHandler.New(rec, logger).RegisterRoutes(authed)
			} else {
				authed.Get("/sessions/{sessionID}/stream", unavailable)
				authed.Get("/sessions/{sessionID}/ws", unavailable)
			}
		})

		if provider != nil {
			chatHandler.New(provider, logger).RegisterRoutes(api)
		} else {
			api.Post("/chat", unavailable)
		}
	})

	return r
}

func unavailable(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
}
