package assembly

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		buffer       string
		mode         Mode
		partial      string
		partialFound bool
		want         string
		structured   bool
	}{
		{name: "raw trims", buffer: "  Hello there \n", mode: ModeRaw, want: "Hello there"},
		{name: "raw ignores object shape", buffer: `{"answer":"x"}`, mode: ModeRaw, want: `{"answer":"x"}`},
		{name: "json object", buffer: `{"answer":"Done","citations":[]}`, mode: ModeJSON, want: "Done", structured: true},
		{name: "json truncated uses partial", buffer: `{"answer":"Half`, mode: ModeJSON, partial: "Half", partialFound: true, want: "Half"},
		{name: "json without answer uses partial", buffer: `{"citations":[]}`, mode: ModeJSON, partial: "p", partialFound: true, want: "p", structured: true},
		{name: "json without answer falls back to buffer", buffer: `{"other":1}`, mode: ModeJSON, want: `{"other":1}`, structured: true},
		{name: "broken json without partial", buffer: `{"answ`, mode: ModeJSON, want: `{"answ`},
		{name: "undetermined object", buffer: ` {"answer":"late"} `, mode: ModeUndetermined, want: "late", structured: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(tc.buffer, tc.mode, tc.partial, tc.partialFound)
			assert.Equal(t, tc.want, res.Text)
			assert.Equal(t, tc.structured, res.Structured)
		})
	}
}

func TestResolveKeepsAccumulatedListsWhenAbsent(t *testing.T) {
	res := Resolve(`{"answer":"a"}`, ModeJSON, "", false)
	assert.Nil(t, res.Citations)
	assert.Nil(t, res.Suggestions)

	res = Resolve(`{"answer":"a","citations":[{"id":"1","kind":"web","sourceLabel":"S"}],"suggestedActions":[{"label":"Next","kind":"question"}]}`, ModeJSON, "", false)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, CitationWeb, res.Citations[0].Kind)
	assert.Equal(t, []SuggestedAction{{Label: "Next", Kind: "question"}}, res.Suggestions)
}

func TestCitationsFromResources(t *testing.T) {
	assert.Nil(t, CitationsFromResources(nil))

	got := CitationsFromResources([]RetrieverResource{
		{DocumentID: "doc-1", DocumentName: "Handbook.pdf", SegmentID: "seg-9"},
		{DocumentID: "doc-2", DatasetName: "Policies"},
	})
	assert.Equal(t, []Citation{
		{ID: "seg-9", Kind: CitationFile, SourceLabel: "Handbook.pdf"},
		{ID: "doc-2", Kind: CitationFile, SourceLabel: "Policies"},
	}, got)
}

func TestDecodeSuggestions(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`"What next?"`),
		json.RawMessage(`"  "`),
		json.RawMessage(`{"label":"Open docs","kind":"link","icon":"book"}`),
		json.RawMessage(`{"label":"Plain"}`),
		json.RawMessage(`{"kind":"question"}`),
		json.RawMessage(`42`),
	}
	assert.Equal(t, []SuggestedAction{
		{Label: "What next?", Kind: "question"},
		{Label: "Open docs", Kind: "link", Icon: "book"},
		{Label: "Plain", Kind: "question"},
	}, DecodeSuggestions(raw))
	assert.Empty(t, DecodeSuggestions(nil))
}
