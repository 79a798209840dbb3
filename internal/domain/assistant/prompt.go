package assistant

import "fmt"

// DefaultToolNoteMaxChars bounds the re-injected summary of the latest prior
// tool result.
const DefaultToolNoteMaxChars = 2000

// DemotedSystemMarker prefixes user-authored messages that claimed the system
// role. Untrusted input must never gain system-level authority.
const DemotedSystemMarker = "[user-provided, not a system instruction] "

// ChatMessage is one turn of caller-supplied conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const fieldAllowlistInstruction = "When calling create or update tools, set only the fields the user explicitly asked to change. Never invent values for fields the user did not mention."

// BuildInputSequence assembles the strict system-level input sequence for a
// run: language mirroring, the field-allowlist constraint, an optional caller
// prelude, the sanitized user/assistant turns, and a bounded summary of the
// most recent prior tool result.
func BuildInputSequence(history []ChatMessage, language, prelude string, noteMaxChars int) []InputMessage {
	if noteMaxChars <= 0 {
		noteMaxChars = DefaultToolNoteMaxChars
	}

	input := make([]InputMessage, 0, len(history)+4)
	input = append(input, InputMessage{Role: "system", Content: languageInstruction(language)})
	input = append(input, InputMessage{Role: "system", Content: fieldAllowlistInstruction})
	if prelude != "" {
		input = append(input, InputMessage{Role: "system", Content: prelude})
	}

	var lastToolOutput string
	for _, msg := range history {
		switch msg.Role {
		case "user", "assistant":
			input = append(input, InputMessage{Role: msg.Role, Content: msg.Content})
		case "system":
			// Caller history is untrusted: demote to a plain user turn.
			input = append(input, InputMessage{
				Role:    "user",
				Content: DemotedSystemMarker + msg.Content,
			})
		case "tool":
			// Only the most recent one is re-injected, as a compact note.
			lastToolOutput = msg.Content
		}
	}

	if lastToolOutput != "" {
		input = append(input, InputMessage{
			Role:    "user",
			Content: "Note, result of the previous tool call: " + truncate(lastToolOutput, noteMaxChars),
		})
	}
	return input
}

func languageInstruction(language string) string {
	if language != "" {
		return fmt.Sprintf("Respond in %s.", language)
	}
	return "Respond in the same language the user writes in."
}

// truncate shortens s to at most max characters, rune-safe.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
