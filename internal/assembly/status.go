package assembly

import (
	"fmt"
	"strings"
)

const (
	StatusRetrieving = "searching internal documents"
	StatusThinking   = "thinking"
)

// NarrateNode maps a node-started sub-kind to a status label. ok is false for
// node types that do not describe user-relevant activity.
func NarrateNode(nodeType, title string) (label string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(nodeType)) {
	case "tool", "tool_call", "agent_tool", "http-request":
		name := strings.TrimSpace(title)
		if name == "" {
			name = "tool"
		}
		return fmt.Sprintf("running external tool: %s", name), true
	case "knowledge-retrieval", "retrieval", "knowledge_retrieval", "dataset-retrieval":
		return StatusRetrieving, true
	case "llm", "generation", "agent":
		return StatusThinking, true
	default:
		return "", false
	}
}
