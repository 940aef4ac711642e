package chat

import (
	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding is the tokenizer used for budgeting. cl100k_base covers
// the chat models the completion backend serves.
const tokenEncoding = "cl100k_base"

// TrimToBudget drops the oldest non-system messages until the history
// fits within maxTokens. The leading system message (and the most recent
// user message) are always kept so the model never loses its persona or
// the current query. A zero or negative budget disables trimming.
func TrimToBudget(history []Message, maxTokens int) []Message {
	if maxTokens <= 0 || len(history) == 0 {
		return history
	}

	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		// Without an encoder we cannot count; send the full history.
		return history
	}

	counts := make([]int, len(history))
	total := 0
	for i, msg := range history {
		counts[i] = len(enc.Encode(msg.Content, nil, nil))
		total += counts[i]
	}
	if total <= maxTokens {
		return history
	}

	// Pinned prefix: the system prompt, if present.
	start := 0
	pinned := 0
	if history[0].Role == RoleSystem {
		start = 1
		pinned = counts[0]
	}

	// Walk forward dropping oldest turns until the remainder fits.
	drop := start
	remaining := total - pinned
	for drop < len(history)-1 && pinned+remaining > maxTokens {
		remaining -= counts[drop]
		drop++
	}

	trimmed := make([]Message, 0, len(history)-drop+start)
	trimmed = append(trimmed, history[:start]...)
	trimmed = append(trimmed, history[drop:]...)
	return trimmed
}
