package assembly

import "strings"

// DetectMode classifies accumulated content. It returns ModeUndetermined
// while the buffer is blank so the caller can retry on the next content event.
func DetectMode(buffer string) Mode {
	trimmed := strings.TrimSpace(buffer)
	if trimmed == "" {
		return ModeUndetermined
	}
	if trimmed[0] == '{' {
		return ModeJSON
	}
	return ModeRaw
}
