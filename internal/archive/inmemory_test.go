package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/streamchat/internal/assembly"
)

func TestInMemoryStoreSaveReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	rec := TurnRecord{ID: "t1", ConversationID: "c1", FinalText: "answer", State: assembly.StateFinalized}
	require.NoError(t, s.Save(ctx, rec))

	rec.SuggestedActions = []assembly.SuggestedAction{{Label: "next", Kind: "question"}}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []assembly.SuggestedAction{{Label: "next", Kind: "question"}}, got.SuggestedActions)
	assert.False(t, got.FinishedAt.IsZero())

	list, err := s.List(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStoreListKeepsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := range 5 {
		require.NoError(t, s.Save(ctx, TurnRecord{ID: fmt.Sprintf("t%d", i), ConversationID: "c1"}))
	}
	require.NoError(t, s.Save(ctx, TurnRecord{ID: "other", ConversationID: "c2"}))

	list, err := s.List(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t3", list[0].ID)
	assert.Equal(t, "t4", list[1].ID)

	empty, err := s.List(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFromTurn(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	turn := assembly.Turn{
		ID:                   "t1",
		ConversationID:       "c1",
		MessageID:            "m1",
		RemoteConversationID: "r1",
		Mode:                 assembly.ModeJSON,
		FinalText:            "hello",
		State:                assembly.StateFailed,
		Error:                &assembly.TurnError{Code: "http_503", Retryable: true},
		StartedAt:            started,
	}
	rec := FromTurn(turn, "u1", "hi")
	assert.Equal(t, "t1", rec.ID)
	assert.Equal(t, "c1", rec.ConversationID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "hi", rec.Query)
	assert.Equal(t, assembly.StateFailed, rec.State)
	assert.Equal(t, "http_503", rec.Error.Code)
	assert.Equal(t, started, rec.StartedAt)
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), " ")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)
	require.NoError(t, s.Close())
}
