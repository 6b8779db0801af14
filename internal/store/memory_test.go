package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/internal/store"
)

var (
	alice = chat.Identity{Subject: "alice", Email: "alice@example.com"}
	bob   = chat.Identity{Subject: "bob", Email: "bob@example.com"}
)

func TestMemorySessionLifecycle(t *testing.T) {
	mem := store.NewMemory()
	sessions := mem.Sessions()
	ctx := context.Background()

	created, err := sessions.Create(ctx, store.CreateSessionInput{OwnerID: alice.Subject, Title: "New Session"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, alice.Subject, created.OwnerID)

	got, err := sessions.Get(ctx, created.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "New Session", got.Title)

	renamed, err := sessions.Rename(ctx, created.ID, "Planning", alice)
	require.NoError(t, err)
	assert.Equal(t, "Planning", renamed.Title)

	require.NoError(t, sessions.Delete(ctx, created.ID, alice))
	_, err = sessions.Get(ctx, created.ID, alice)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryOwnershipBoundary(t *testing.T) {
	mem := store.NewMemory()
	sessions := mem.Sessions()
	messages := mem.Messages()
	ctx := context.Background()

	created, err := sessions.Create(ctx, store.CreateSessionInput{OwnerID: alice.Subject, Title: "Private"})
	require.NoError(t, err)

	_, err = sessions.Get(ctx, created.ID, bob)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
	_, err = sessions.Rename(ctx, created.ID, "Stolen", bob)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
	assert.ErrorIs(t, sessions.Delete(ctx, created.ID, bob), store.ErrAccessDenied)
	_, err = messages.ListBySession(ctx, created.ID, bob)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
	_, err = messages.Create(ctx, store.CreateMessageInput{
		SessionID: created.ID, Role: chat.RoleUser, Content: "hi",
	}, bob)
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	// Bob's list shows nothing of Alice's.
	summaries, err := sessions.List(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	_, err = sessions.Get(ctx, "no-such-session", alice)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryMessageOrdering(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	created, err := mem.Sessions().Create(ctx, store.CreateSessionInput{OwnerID: alice.Subject, Title: "Chat"})
	require.NoError(t, err)

	contents := []string{"one", "two", "three", "four"}
	roles := []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleUser, chat.RoleAssistant}
	for i := range contents {
		_, err := mem.Messages().Create(ctx, store.CreateMessageInput{
			SessionID: created.ID, Role: roles[i], Content: contents[i],
		}, alice)
		require.NoError(t, err)
	}

	got, err := mem.Messages().ListBySession(ctx, created.ID, alice)
	require.NoError(t, err)
	require.Len(t, got, len(contents))
	for i, msg := range got {
		assert.Equal(t, contents[i], msg.Content)
		assert.Equal(t, roles[i], msg.Role)
	}
}

func TestMemoryListIncludesLastMessage(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	withMsgs, err := mem.Sessions().Create(ctx, store.CreateSessionInput{OwnerID: alice.Subject, Title: "Busy"})
	require.NoError(t, err)
	empty, err := mem.Sessions().Create(ctx, store.CreateSessionInput{OwnerID: alice.Subject, Title: "Quiet"})
	require.NoError(t, err)

	for _, content := range []string{"hello", "goodbye"} {
		_, err := mem.Messages().Create(ctx, store.CreateMessageInput{
			SessionID: withMsgs.ID, Role: chat.RoleUser, Content: content,
		}, alice)
		require.NoError(t, err)
	}

	summaries, err := mem.Sessions().List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := make(map[string]chat.SessionSummary, 2)
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.Equal(t, "goodbye", byID[withMsgs.ID].LastMessage)
	assert.NotNil(t, byID[withMsgs.ID].LastMessageAt)
	assert.Empty(t, byID[empty.ID].LastMessage)
	assert.Nil(t, byID[empty.ID].LastMessageAt)
}

func TestMemoryDeleteBySession(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	created, err := mem.Sessions().Create(ctx, store.CreateSessionInput{OwnerID: alice.Subject, Title: "Chat"})
	require.NoError(t, err)
	_, err = mem.Messages().Create(ctx, store.CreateMessageInput{
		SessionID: created.ID, Role: chat.RoleUser, Content: "hi",
	}, alice)
	require.NoError(t, err)

	require.NoError(t, mem.Messages().DeleteBySession(ctx, created.ID, alice))

	got, err := mem.Messages().ListBySession(ctx, created.ID, alice)
	require.NoError(t, err)
	assert.Empty(t, got)
}
