package assembly

import (
	"encoding/json"
	"strings"
)

// EventKind is the classified discriminator of a stream record.
type EventKind string

const (
	KindNodeStarted  EventKind = "node-started"
	KindContent      EventKind = "content"
	KindContentEnd   EventKind = "content-end"
	KindTurnFinished EventKind = "turn-finished"
	KindError        EventKind = "error"
	KindUnrecognized EventKind = "unrecognized"
)

const recordPrefix = "data:"

// Event is one classified protocol record.
type Event struct {
	Kind EventKind

	// node-started
	NodeType string
	Title    string

	// content
	Delta string

	// content-end
	Resources []RetrieverResource

	// error
	ErrorCode    string
	ErrorMessage string

	// Backend identifiers, present on any kind.
	MessageID      string
	ConversationID string
	TaskID         string
}

// RetrieverResource is a document chunk the backend consulted.
type RetrieverResource struct {
	Position     int     `json:"position"`
	DatasetID    string  `json:"dataset_id"`
	DatasetName  string  `json:"dataset_name"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	SegmentID    string  `json:"segment_id"`
	Score        float64 `json:"score"`
	URL          string  `json:"url,omitempty"`
}

// DropReason explains why Classify rejected a record.
type DropReason string

const (
	DropNone      DropReason = ""
	DropNoPrefix  DropReason = "no_prefix"
	DropBlank     DropReason = "blank"
	DropMalformed DropReason = "malformed"
)

type wirePayload struct {
	Answer         *string `json:"answer"`
	NodeType       string  `json:"node_type"`
	Title          string  `json:"title"`
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	TaskID         string  `json:"task_id"`
	Code           string  `json:"code"`
	Message        string  `json:"message"`
	Metadata       *struct {
		RetrieverResources []RetrieverResource `json:"retriever_resources"`
	} `json:"metadata"`
}

type wireEnvelope struct {
	wirePayload
	Event string          `json:"event"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// Classify parses one record. ok is false when the record was dropped; the
// reason is returned for accounting and never needs to reach the caller.
func Classify(record string) (evt Event, reason DropReason, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimLeft(record, " \t"), recordPrefix)
	if !found {
		return Event{}, DropNoPrefix, false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Event{}, DropBlank, false
	}

	var env wireEnvelope
	if err := json.Unmarshal([]byte(rest), &env); err != nil {
		return Event{}, DropMalformed, false
	}

	// Fields may sit at the top level or under "data"; top level wins.
	payload := env.wirePayload
	if len(env.Data) > 0 && env.Data[0] == '{' {
		var nested wirePayload
		if err := json.Unmarshal(env.Data, &nested); err == nil {
			mergePayload(&payload, nested)
		}
	}

	discriminator := env.Event
	if discriminator == "" {
		discriminator = env.Kind
	}

	evt = Event{
		Kind:           kindOf(discriminator),
		MessageID:      payload.MessageID,
		ConversationID: payload.ConversationID,
		TaskID:         payload.TaskID,
	}
	switch evt.Kind {
	case KindNodeStarted:
		evt.NodeType = payload.NodeType
		evt.Title = payload.Title
	case KindContent:
		if payload.Answer != nil {
			evt.Delta = *payload.Answer
		}
	case KindContentEnd:
		if payload.Metadata != nil {
			evt.Resources = payload.Metadata.RetrieverResources
		}
	case KindError:
		evt.ErrorCode = payload.Code
		evt.ErrorMessage = payload.Message
	}
	return evt, DropNone, true
}

func mergePayload(dst *wirePayload, src wirePayload) {
	if dst.Answer == nil {
		dst.Answer = src.Answer
	}
	if dst.NodeType == "" {
		dst.NodeType = src.NodeType
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.MessageID == "" {
		dst.MessageID = src.MessageID
	}
	if dst.ConversationID == "" {
		dst.ConversationID = src.ConversationID
	}
	if dst.TaskID == "" {
		dst.TaskID = src.TaskID
	}
	if dst.Code == "" {
		dst.Code = src.Code
	}
	if dst.Message == "" {
		dst.Message = src.Message
	}
	if dst.Metadata == nil {
		dst.Metadata = src.Metadata
	}
}

func kindOf(discriminator string) EventKind {
	switch strings.ToLower(strings.TrimSpace(discriminator)) {
	case "node_started", "node-started":
		return KindNodeStarted
	case "message", "agent_message", "content":
		return KindContent
	case "message_end", "content-end", "content_end":
		return KindContentEnd
	case "workflow_finished", "turn-finished", "turn_finished":
		return KindTurnFinished
	case "error":
		return KindError
	default:
		return KindUnrecognized
	}
}
