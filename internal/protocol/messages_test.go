package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/streamchat/internal/assembly"
)

func TestParseClientMessageStartTurn(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"start_turn","conversation_id":"c1","text":"hello","approved":true}`))
	require.NoError(t, err)

	start, ok := msg.(StartTurn)
	require.True(t, ok, "message type = %T", msg)
	assert.Equal(t, "c1", start.ConversationID)
	assert.Equal(t, "hello", start.Text)
	assert.True(t, start.Approved)
}

func TestParseClientMessageRejectsBlankText(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"start_turn","text":"   "}`))
	assert.Error(t, err)
}

func TestParseClientMessageCommands(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"cancel_turn","conversation_id":"c1"}`))
	require.NoError(t, err)
	assert.IsType(t, CancelTurn{}, msg)

	msg, err = ParseClientMessage([]byte(`{"type":"stop_generation"}`))
	require.NoError(t, err)
	assert.IsType(t, StopGeneration{}, msg)
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"turn_snapshot"}`))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ParseClientMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestTurnSnapshotOmitsRawBuffer(t *testing.T) {
	b, err := json.Marshal(TurnSnapshot{
		Type: TypeTurnSnapshot,
		Turn: assembly.Turn{ID: "t1", RawBuffer: `{"answer":"secret draft`, FinalText: "hi"},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret draft")
	assert.Contains(t, string(b), `"type":"turn_snapshot"`)
}
