package assembly

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ExtractField returns the best currently decodable value of a string field
// in a JSON object that may still be streaming. ok is false when the field
// has not appeared yet. The result is always a prefix of the value the field
// decodes to once the document is complete.
func ExtractField(buffer, field string) (value string, ok bool) {
	open := locateValue(buffer, field, '"')
	if open < 0 {
		return "", false
	}
	body := buffer[open+1:]

	end, closed := closingQuote(body)
	candidate := body
	if closed {
		candidate = body[:end]
	}

	truncated := !closed
	for {
		if truncated {
			candidate = trimUnsafeTail(candidate)
		}
		if candidate == "" {
			return "", true
		}
		if s, err := decodeStringLiteral(candidate); err == nil {
			return s, true
		}
		// Usually a cut escape sequence; drop one byte and retry.
		candidate = candidate[:len(candidate)-1]
		truncated = true
	}
}

// ExtractArray returns the raw JSON of an array field once its closing bracket
// has arrived. Incomplete arrays are reported as absent.
func ExtractArray(buffer, field string) (json.RawMessage, bool) {
	open := locateValue(buffer, field, '[')
	if open < 0 {
		return nil, false
	}
	end := compositeEndIndex(buffer[open:])
	if end < 0 {
		return nil, false
	}
	return json.RawMessage(buffer[open : open+end+1]), true
}

// locateValue finds the first `"field"` key followed by a colon and a value
// starting with opener. It returns the index of opener in buffer, or -1.
func locateValue(buffer, field string, opener byte) int {
	key := `"` + field + `"`
	from := 0
	for {
		idx := strings.Index(buffer[from:], key)
		if idx < 0 {
			return -1
		}
		pos := from + idx + len(key)
		pos = skipSpace(buffer, pos)
		if pos < len(buffer) && buffer[pos] == ':' {
			pos = skipSpace(buffer, pos+1)
			if pos < len(buffer) && buffer[pos] == opener {
				return pos
			}
		}
		from = from + idx + 1
	}
}

func skipSpace(s string, pos int) int {
	for pos < len(s) {
		switch s[pos] {
		case ' ', '\t', '\n', '\r':
			pos++
		default:
			return pos
		}
	}
	return pos
}

// closingQuote finds the first quote not preceded by an odd run of backslashes.
func closingQuote(body string) (int, bool) {
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			return i, true
		}
	}
	return -1, false
}

// trimUnsafeTail removes endings that would decode successfully but differ
// from the eventual value: a cut UTF-8 sequence, or a high surrogate escape
// whose low half has not arrived (the decoder would yield U+FFFD).
func trimUnsafeTail(s string) string {
	for {
		switch {
		case s != "" && !utf8.FullRuneInString(s[lastRuneStart(s):]):
			s = s[:lastRuneStart(s)]
		case endsWithHighSurrogate(s):
			s = s[:len(s)-6]
		default:
			return s
		}
	}
}

func lastRuneStart(s string) int {
	i := len(s) - 1
	for i > 0 && len(s)-i < utf8.UTFMax && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func endsWithHighSurrogate(s string) bool {
	if len(s) < 6 {
		return false
	}
	tail := s[len(s)-6:]
	if tail[0] != '\\' || tail[1] != 'u' {
		return false
	}
	// The backslash must itself be unescaped.
	run := 0
	for i := len(s) - 7; i >= 0 && s[i] == '\\'; i-- {
		run++
	}
	if run%2 != 0 {
		return false
	}
	var v rune
	for _, c := range tail[2:] {
		d, ok := hexDigit(byte(c))
		if !ok {
			return false
		}
		v = v<<4 | d
	}
	return v >= 0xD800 && v <= 0xDBFF
}

func hexDigit(c byte) (rune, bool) {
	switch {
	case c >= '0' && c <= '9':
		return rune(c - '0'), true
	case c >= 'a' && c <= 'f':
		return rune(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return rune(c-'A') + 10, true
	default:
		return 0, false
	}
}

func decodeStringLiteral(candidate string) (string, error) {
	var out string
	err := json.Unmarshal([]byte(`"`+candidate+`"`), &out)
	return out, err
}

// compositeEndIndex returns the index of the bracket closing the array or
// object that raw starts with, skipping brackets inside strings. -1 when the
// value is not closed yet.
func compositeEndIndex(raw string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
