package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	streamHandler "github.com/threadloom/backend/internal/handler/stream"
	"github.com/threadloom/backend/internal/middleware"
	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/internal/service/ai"
	"github.com/threadloom/backend/internal/service/ai/aitest"
	"github.com/threadloom/backend/internal/service/transcript"
	"github.com/threadloom/backend/internal/store"
)

type streamFixture struct {
	router  http.Handler
	mem     *store.Memory
	session chat.Session
}

func newStreamFixture(t *testing.T, provider ai.Provider) *streamFixture {
	t.Helper()

	mem := store.NewMemory()
	session, err := mem.Sessions().Create(context.Background(), store.CreateSessionInput{
		OwnerID: "alice", Title: "Chat",
	})
	require.NoError(t, err)

	rec := transcript.New(mem.Sessions(), mem.Messages(), provider, zap.NewNop())

	r := chi.NewRouter()
	r.Use(middleware.Identity)
	streamHandler.New(rec, zap.NewNop()).RegisterRoutes(r)

	return &streamFixture{router: r, mem: mem, session: session}
}

func (f *streamFixture) stream(t *testing.T, sessionID, userID, message string) *httptest.ResponseRecorder {
	t.Helper()

	target := "/sessions/" + sessionID + "/stream?message=" + url.QueryEscape(message)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// parseFrames decodes every "data:" frame in an SSE body.
func parseFrames(t *testing.T, body string) []streamHandler.StreamResponse {
	t.Helper()

	var frames []streamHandler.StreamResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame streamHandler.StreamResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func eventNames(frames []streamHandler.StreamResponse) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func TestStreamHappyPath(t *testing.T) {
	provider := &aitest.Provider{Chunks: []string{"Hel", "lo"}}
	f := newStreamFixture(t, provider)

	rec := f.stream(t, f.session.ID, "alice", "Hi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseFrames(t, rec.Body.String())
	assert.Equal(t, []string{"start", "accepted", "delta", "delta", "message", "end"}, eventNames(frames))
	assert.Equal(t, "Hel", frames[2].Content)
	assert.Equal(t, "lo", frames[3].Content)
	assert.Equal(t, "Hello", frames[4].Content)
	assert.True(t, frames[5].Finished)

	stored, err := f.mem.Messages().ListBySession(context.Background(),
		f.session.ID, chat.Identity{Subject: "alice"})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Hi", stored[0].Content)
	assert.Equal(t, "Hello", stored[1].Content)
}

func TestStreamRequiresMessage(t *testing.T) {
	f := newStreamFixture(t, &aitest.Provider{})

	rec := f.stream(t, f.session.ID, "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRequiresIdentity(t *testing.T) {
	f := newStreamFixture(t, &aitest.Provider{})

	rec := f.stream(t, f.session.ID, "", "Hi")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamForeignSessionIsNotFound(t *testing.T) {
	f := newStreamFixture(t, &aitest.Provider{})

	rec := f.stream(t, f.session.ID, "bob", "Hi")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.stream(t, "no-such-session", "alice", "Hi")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamProviderFailure(t *testing.T) {
	provider := &aitest.Provider{Err: errors.New("model unavailable")}
	f := newStreamFixture(t, provider)

	rec := f.stream(t, f.session.ID, "alice", "Hi")
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last.Event)
	assert.Contains(t, last.Error, "model unavailable")

	// The user turn survived the failure.
	stored, err := f.mem.Messages().ListBySession(context.Background(),
		f.session.ID, chat.Identity{Subject: "alice"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, chat.RoleUser, stored[0].Role)
}
