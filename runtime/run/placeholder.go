package run

import (
	"strings"
	"unicode"
)

// PlaceholderPrefix starts an in-text marker in a persisted assistant
// message that stands in for the segments produced by one tool call. The
// token is resolved at rehydration time by re-decoding the corresponding
// tool message's stored result.
const PlaceholderPrefix = "toolResult:component:"

// AnnotationMarker separates the semantic assistant text from the
// human-readable tool-call parameter summary appended by the persister.
// Everything from the marker onward is ignored when decoding placeholders.
const AnnotationMarker = "\n\n[tool-calls]"

// Placeholder returns the placeholder token for the given tool call id.
func Placeholder(toolCallID string) string {
	return PlaceholderPrefix + toolCallID
}

// PlaceholderToken is one resolved element of a scanned assistant text:
// either plain text (ToolCallID empty) or a placeholder token.
type PlaceholderToken struct {
	// Text is the trimmed literal text, for text elements.
	Text string
	// ToolCallID is the referenced tool call, for token elements.
	ToolCallID string
}

// ScanPlaceholders splits an assistant message text into literal text runs
// and placeholder tokens in left-to-right order. Literal runs are trimmed;
// empty runs are dropped. Any trailing debug annotation is stripped first.
func ScanPlaceholders(text string) []PlaceholderToken {
	if i := strings.Index(text, AnnotationMarker); i >= 0 {
		text = text[:i]
	}
	var out []PlaceholderToken
	for {
		i := strings.Index(text, PlaceholderPrefix)
		if i < 0 {
			break
		}
		if lead := strings.TrimSpace(text[:i]); lead != "" {
			out = append(out, PlaceholderToken{Text: lead})
		}
		rest := text[i+len(PlaceholderPrefix):]
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		if id := rest[:end]; id != "" {
			out = append(out, PlaceholderToken{ToolCallID: id})
		}
		text = rest[end:]
	}
	if tail := strings.TrimSpace(text); tail != "" {
		out = append(out, PlaceholderToken{Text: tail})
	}
	return out
}
