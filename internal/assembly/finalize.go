package assembly

import (
	"encoding/json"
	"strings"
)

const (
	fieldAnswer      = "answer"
	fieldCitations   = "citations"
	fieldSuggestions = "suggestedActions"
)

// Resolution is the authoritative result computed at the terminal event.
type Resolution struct {
	Text string
	// Citations and Suggestions are nil when the source did not carry them;
	// the caller keeps whatever it accumulated.
	Citations   []Citation
	Suggestions []SuggestedAction
	// Structured is true when the buffer decoded strictly as an object.
	Structured bool
}

type envelope struct {
	Answer           *string           `json:"answer"`
	Citations        []Citation        `json:"citations"`
	SuggestedActions []SuggestedAction `json:"suggestedActions"`
}

// Resolve runs the strict decode of the full buffer. It never fails: when the
// buffer is not a JSON object (or the turn was RAW) the trimmed buffer is the
// answer. partial is the best-effort answer extracted while streaming and is
// preferred over raw JSON text when a JSON turn was cut short.
func Resolve(buffer string, mode Mode, partial string, partialFound bool) Resolution {
	trimmed := strings.TrimSpace(buffer)
	if mode != ModeRaw {
		var env envelope
		if err := json.Unmarshal([]byte(trimmed), &env); err == nil {
			res := Resolution{
				Citations:   env.Citations,
				Suggestions: env.SuggestedActions,
				Structured:  true,
			}
			switch {
			case env.Answer != nil:
				res.Text = *env.Answer
			case partialFound:
				res.Text = partial
			default:
				res.Text = trimmed
			}
			return res
		}
		if mode == ModeJSON && partialFound {
			return Resolution{Text: partial}
		}
	}
	return Resolution{Text: trimmed}
}

// partialCitations decodes a fully arrived citations array, if any.
func partialCitations(buffer string) ([]Citation, bool) {
	raw, ok := ExtractArray(buffer, fieldCitations)
	if !ok {
		return nil, false
	}
	var out []Citation
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// partialSuggestions decodes a fully arrived suggestedActions array, if any.
func partialSuggestions(buffer string) ([]SuggestedAction, bool) {
	raw, ok := ExtractArray(buffer, fieldSuggestions)
	if !ok {
		return nil, false
	}
	var out []SuggestedAction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// CitationsFromResources converts retriever resources into file citations.
func CitationsFromResources(resources []RetrieverResource) []Citation {
	if len(resources) == 0 {
		return nil
	}
	out := make([]Citation, 0, len(resources))
	for _, r := range resources {
		id := r.SegmentID
		if id == "" {
			id = r.DocumentID
		}
		label := r.DocumentName
		if label == "" {
			label = r.DatasetName
		}
		out = append(out, Citation{
			ID:          id,
			Kind:        CitationFile,
			SourceLabel: label,
			URL:         r.URL,
		})
	}
	return out
}

// DecodeSuggestions accepts the side-channel payload, a list of plain strings
// or of {label, kind, icon} objects, and normalizes it.
func DecodeSuggestions(raw []json.RawMessage) []SuggestedAction {
	out := make([]SuggestedAction, 0, len(raw))
	for _, item := range raw {
		var label string
		if err := json.Unmarshal(item, &label); err == nil {
			if label = strings.TrimSpace(label); label != "" {
				out = append(out, SuggestedAction{Label: label, Kind: "question"})
			}
			continue
		}
		var action SuggestedAction
		if err := json.Unmarshal(item, &action); err != nil || strings.TrimSpace(action.Label) == "" {
			continue
		}
		if action.Kind == "" {
			action.Kind = "question"
		}
		out = append(out, action)
	}
	return out
}
