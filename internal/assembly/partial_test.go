package assembly

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFieldAbsent(t *testing.T) {
	for _, buf := range []string{"", "{", `{"ans`, `{"answer"`, `{"answer":`, `{"answer": `, `{"other":"x"}`} {
		_, ok := ExtractField(buf, "answer")
		assert.False(t, ok, "buffer %q", buf)
	}
}

func TestExtractFieldStreamingAndClosed(t *testing.T) {
	got, ok := ExtractField(`{"answer":"Hi`, "answer")
	require.True(t, ok)
	assert.Equal(t, "Hi", got)

	got, ok = ExtractField(`{"answer":"Hi there","citations":[`, "answer")
	require.True(t, ok)
	assert.Equal(t, "Hi there", got)

	got, ok = ExtractField(`{"answer": "spaced"}`, "answer")
	require.True(t, ok)
	assert.Equal(t, "spaced", got)
}

func TestExtractFieldDropsDanglingBackslash(t *testing.T) {
	got, ok := ExtractField(`{"answer":"Tokyo\`, "answer")
	require.True(t, ok)
	assert.Equal(t, "Tokyo", got)
}

func TestExtractFieldEscapes(t *testing.T) {
	got, ok := ExtractField(`{"answer":"a\"b\\c\ndé"}`, "answer")
	require.True(t, ok)
	assert.Equal(t, "a\"b\\c\ndé", got)

	// An escaped backslash before the quote ends the string.
	got, ok = ExtractField(`{"answer":"path\\","x":1}`, "answer")
	require.True(t, ok)
	assert.Equal(t, `path\`, got)
}

func TestExtractFieldIgnoresEscapedKeyInsideValue(t *testing.T) {
	buf := `{"note":"say \"answer\":\"no\"","answer":"yes"}`
	got, ok := ExtractField(buf, "answer")
	require.True(t, ok)
	assert.Equal(t, "yes", got)
}

func TestExtractFieldTruncatedSurrogatePair(t *testing.T) {
	full := `{"answer":"ok \ud83d\ude00 done"}`
	want := "ok \U0001F600 done"
	for cut := 0; cut <= len(full); cut++ {
		got, ok := ExtractField(full[:cut], "answer")
		if !ok {
			continue
		}
		assert.True(t, strings.HasPrefix(want, got), "cut %d: %q is not a prefix of %q", cut, got, want)
		assert.NotContains(t, got, "�", "cut %d", cut)
	}
}

func TestExtractFieldTruncatedMultibyte(t *testing.T) {
	full := `{"answer":"héllo wörld ✓"}`
	want := "héllo wörld ✓"
	for cut := 0; cut <= len(full); cut++ {
		got, ok := ExtractField(full[:cut], "answer")
		if !ok {
			continue
		}
		assert.True(t, strings.HasPrefix(want, got), "cut %d: %q", cut, got)
	}
}

func TestExtractFieldPrefixConsistentForEveryTruncation(t *testing.T) {
	value := "line one\nline \"two\" \\ tab\t end ☃ \U0001F680"
	encoded, err := json.Marshal(map[string]any{"answer": value, "citations": []Citation{}})
	require.NoError(t, err)
	doc := string(encoded)

	for cut := 0; cut <= len(doc); cut++ {
		got, ok := ExtractField(doc[:cut], "answer")
		if !ok {
			continue
		}
		require.True(t, strings.HasPrefix(value, got), "cut %d: %q", cut, got)
	}
	got, ok := ExtractField(doc, "answer")
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestExtractArrayOnlyWhenClosed(t *testing.T) {
	_, ok := ExtractArray(`{"citations":[{"id":"1","kind":"web"`, "citations")
	assert.False(t, ok)

	raw, ok := ExtractArray(`{"citations":[{"id":"1","kind":"web","sourceLabel":"a ] b"}],"x":`, "citations")
	require.True(t, ok)
	var cites []Citation
	require.NoError(t, json.Unmarshal(raw, &cites))
	require.Len(t, cites, 1)
	assert.Equal(t, "a ] b", cites[0].SourceLabel)
}
