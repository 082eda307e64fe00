package airforce

import (
	"strings"

	"github.com/leofalp/webchat/providers/ai"
)

// maxMessageLength is the per-message limit of the completions endpoint, in
// characters.
const maxMessageLength = 1000

// SplitMessage cuts message into chunks of at most maxLength characters,
// preferring the last space before the limit. Whitespace around the cut is
// dropped, so joining the chunks with a single space restores a message
// whose words are separated by single spaces and are shorter than maxLength.
func SplitMessage(message string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = maxMessageLength
	}

	runes := []rune(message)
	var chunks []string
	for len(runes) > maxLength {
		split := lastSpace(runes[:maxLength])
		if split <= 0 {
			split = maxLength
		}
		chunks = append(chunks, string(runes[:split]))
		runes = []rune(strings.TrimSpace(string(runes[split:])))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// splitMessages applies SplitMessage to every message, keeping roles.
func splitMessages(messages []ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(messages))
	for _, message := range messages {
		for _, chunk := range SplitMessage(message.Content, maxMessageLength) {
			out = append(out, ai.Message{Role: message.Role, Content: chunk})
		}
	}
	return out
}
