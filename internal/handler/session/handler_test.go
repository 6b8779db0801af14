package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sessionHandler "github.com/threadloom/backend/internal/handler/session"
	"github.com/threadloom/backend/internal/middleware"
	"github.com/threadloom/backend/internal/model/chat"
	sessionService "github.com/threadloom/backend/internal/service/session"
	"github.com/threadloom/backend/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	svc := sessionService.New(mem.Sessions(), mem.Messages(), zap.NewNop())

	r := chi.NewRouter()
	r.Use(middleware.Identity)
	sessionHandler.New(svc).RegisterRoutes(r)
	return r, mem
}

func doJSON(t *testing.T, router http.Handler, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSessionRoutesRequireIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/sessions", "", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListSessions(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", "alice", map[string]string{"title": "Trip planning"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created chat.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Trip planning", created.Title)
	assert.Equal(t, "alice", created.OwnerID)

	// Empty body means default title.
	rec = doJSON(t, router, http.MethodPost, "/sessions", "alice", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Sessions, 2)
}

func TestGetSessionWithMessages(t *testing.T) {
	router, mem := newTestRouter(t)
	identity := chat.Identity{Subject: "alice"}

	rec := doJSON(t, router, http.MethodPost, "/sessions", "alice", map[string]string{"title": "Chat"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created chat.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	_, err := mem.Messages().Create(context.Background(), store.CreateMessageInput{
		SessionID: created.ID, Role: chat.RoleUser, Content: "hello",
	}, identity)
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodGet, "/sessions/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Session  chat.Session   `json:"session"`
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.Session.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestForeignSessionReadsAsMissing(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", "alice", map[string]string{"title": "Private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created chat.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	for _, method := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		var body any
		if method == http.MethodPatch {
			body = map[string]string{"title": "Stolen"}
		}
		rec = doJSON(t, router, method, "/sessions/"+created.ID, "bob", body)
		assert.Equal(t, http.StatusNotFound, rec.Code, "method %s", method)
	}
}

func TestRenameSession(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", "alice", map[string]string{"title": "Old"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created chat.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, router, http.MethodPatch, "/sessions/"+created.ID, "alice", map[string]string{"title": "New"})
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed chat.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renamed))
	assert.Equal(t, "New", renamed.Title)

	rec = doJSON(t, router, http.MethodPatch, "/sessions/"+created.ID, "alice", map[string]string{"title": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", "alice", map[string]string{"title": "Temp"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created chat.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, router, http.MethodDelete, "/sessions/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/sessions/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
