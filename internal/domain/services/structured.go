package services

import (
	"encoding/json"
	"strings"
)

// ParseStage records which attempt produced a structured value.
type ParseStage string

// Parse stages, in the order they are attempted.
const (
	StageDirect   ParseStage = "direct"
	StageFence    ParseStage = "fence"
	StageExtract  ParseStage = "extract"
	StageFallback ParseStage = "fallback"
)

// Parsed is either a value decoded from model output or the caller's
// fallback. Fallback is never an error: models routinely answer in prose.
type Parsed[T any] struct {
	Value    T
	Fallback bool
	Stage    ParseStage
}

// ParseStructured decodes raw model output into T. It tries the text as-is,
// then with a surrounding code fence removed, then the first balanced JSON
// object or array found anywhere in the text. If all three fail it returns
// fallback with Fallback set.
func ParseStructured[T any](raw string, fallback T) Parsed[T] {
	text := strings.TrimSpace(raw)

	if v, ok := decodeJSON[T](text); ok {
		return Parsed[T]{Value: v, Stage: StageDirect}
	}

	if unfenced, fenced := stripFence(text); fenced {
		if v, ok := decodeJSON[T](unfenced); ok {
			return Parsed[T]{Value: v, Stage: StageFence}
		}
	}

	for start := 0; start < len(text); {
		i := strings.IndexAny(text[start:], "{[")
		if i < 0 {
			break
		}
		i += start
		if segment, ok := balancedSegment(text, i); ok {
			if v, ok := decodeJSON[T](segment); ok {
				return Parsed[T]{Value: v, Stage: StageExtract}
			}
		}
		start = i + 1
	}

	return Parsed[T]{Value: fallback, Fallback: true, Stage: StageFallback}
}

func decodeJSON[T any](text string) (T, bool) {
	var v T
	if text == "" {
		return v, false
	}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// stripFence removes a leading ```lang line and a trailing ``` line.
func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return text, false
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), true
}

// balancedSegment returns the JSON object or array starting at text[start],
// matching brackets while skipping over string literals.
func balancedSegment(text string, start int) (string, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
