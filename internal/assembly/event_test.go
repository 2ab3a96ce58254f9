package assembly

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameReaderBuffersPartialRecord(t *testing.T) {
	var f FrameReader
	got, err := f.Push([]byte(`data: {"event":"mes`))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, `data: {"event":"mes`, string(f.buf))

	got, err = f.Push([]byte("sage\"}\r\ndata: a\ndata: b"))
	require.NoError(t, err)
	assert.Equal(t, []string{`data: {"event":"message"}`, "data: a"}, got)
	assert.Equal(t, "data: b", string(f.buf))

	f.Close()
	assert.Empty(t, f.buf)
	got, err = f.Push(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFrameReaderAcceptsRecordAtLimit(t *testing.T) {
	var f FrameReader
	chunk := []byte(strings.Repeat("x", 64<<10))
	for i := 0; i < MaxRecordBytes/len(chunk); i++ {
		_, err := f.Push(chunk)
		require.NoError(t, err)
	}
	got, err := f.Push([]byte("\ndata: next"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], MaxRecordBytes)
	assert.Equal(t, "data: next", string(f.buf))
}

func TestFrameReaderRejectsOversizedRecord(t *testing.T) {
	var f FrameReader
	chunk := []byte(strings.Repeat("x", 64<<10))
	var err error
	for i := 0; i <= MaxRecordBytes/len(chunk) && err == nil; i++ {
		_, err = f.Push(chunk)
	}
	require.ErrorIs(t, err, ErrRecordTooLong)
	assert.Empty(t, f.buf)

	// A terminated record completed in the same chunk is still delivered.
	var g FrameReader
	got, err := g.Push([]byte("data: ok\n" + strings.Repeat("y", MaxRecordBytes+1)))
	require.ErrorIs(t, err, ErrRecordTooLong)
	assert.Equal(t, []string{"data: ok"}, got)
}

func TestReadRecordsStopsOnOversizedRecord(t *testing.T) {
	r := &chunkedReader{chunks: []string{"data: 1\n", strings.Repeat("z", MaxRecordBytes+1), "\ndata: 2\n"}}
	var got []string
	err := ReadRecords(context.Background(), r, func(rec string) error {
		got = append(got, rec)
		return nil
	})
	require.ErrorIs(t, err, ErrRecordTooLong)
	assert.Equal(t, []string{"data: 1"}, got)
}

type chunkedReader struct {
	chunks []string
	err    error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestReadRecordsDiscardsTrailingFragment(t *testing.T) {
	r := &chunkedReader{chunks: []string{"data: 1\nda", "ta: 2\n", "data: 3"}}
	var got []string
	err := ReadRecords(context.Background(), r, func(rec string) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"data: 1", "data: 2"}, got)
}

func TestReadRecordsSurfacesTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := &chunkedReader{chunks: []string{"data: 1\n"}, err: boom}
	err := ReadRecords(context.Background(), r, func(string) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestReadRecordsHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadRecords(ctx, strings.NewReader("data: 1\n"), func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		record string
		want   Event
	}{
		{
			record: `data: {"event":"node_started","data":{"node_type":"knowledge-retrieval","title":"KB"}}`,
			want:   Event{Kind: KindNodeStarted, NodeType: "knowledge-retrieval", Title: "KB"},
		},
		{
			record: `data: {"event":"message","answer":"Hel","conversation_id":"c1","task_id":"t1"}`,
			want:   Event{Kind: KindContent, Delta: "Hel", ConversationID: "c1", TaskID: "t1"},
		},
		{
			record: `data:{"kind":"content","data":{"answer":"lo"}}`,
			want:   Event{Kind: KindContent, Delta: "lo"},
		},
		{
			record: `data: {"event":"message_end","message_id":"m1","metadata":{"retriever_resources":[{"segment_id":"s1","document_name":"Guide.pdf"}]}}`,
			want: Event{Kind: KindContentEnd, MessageID: "m1", Resources: []RetrieverResource{
				{SegmentID: "s1", DocumentName: "Guide.pdf"},
			}},
		},
		{
			record: `data: {"event":"workflow_finished","data":{"status":"succeeded"}}`,
			want:   Event{Kind: KindTurnFinished},
		},
		{
			record: `data: {"event":"error","code":"quota","message":"over limit"}`,
			want:   Event{Kind: KindError, ErrorCode: "quota", ErrorMessage: "over limit"},
		},
		{
			record: `data: {"event":"ping"}`,
			want:   Event{Kind: KindUnrecognized},
		},
	}
	for _, tt := range tests {
		got, reason, ok := Classify(tt.record)
		require.True(t, ok, tt.record)
		assert.Equal(t, DropNone, reason)
		assert.Equal(t, tt.want, got, tt.record)
	}
}

func TestClassifyDropsRecords(t *testing.T) {
	tests := map[string]DropReason{
		"":                         DropNoPrefix,
		": keepalive":              DropNoPrefix,
		"event: message":           DropNoPrefix,
		"data:   ":                 DropBlank,
		"data: {not-json}":         DropMalformed,
		`data: {"event":"message"`: DropMalformed,
	}
	for record, want := range tests {
		_, reason, ok := Classify(record)
		assert.False(t, ok, record)
		assert.Equal(t, want, reason, record)
	}
}

func TestNarrateNode(t *testing.T) {
	label, ok := NarrateNode("tool", "weather")
	require.True(t, ok)
	assert.Equal(t, "running external tool: weather", label)

	label, ok = NarrateNode("knowledge-retrieval", "")
	require.True(t, ok)
	assert.Equal(t, StatusRetrieving, label)

	label, ok = NarrateNode("llm", "LLM")
	require.True(t, ok)
	assert.Equal(t, StatusThinking, label)

	_, ok = NarrateNode("start", "")
	assert.False(t, ok)
}

func TestDetectMode(t *testing.T) {
	assert.Equal(t, ModeUndetermined, DetectMode("  \n"))
	assert.Equal(t, ModeJSON, DetectMode("  {\"answer\""))
	assert.Equal(t, ModeRaw, DetectMode("Hello {"))
}
