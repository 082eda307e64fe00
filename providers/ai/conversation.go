package ai

import "github.com/google/uuid"

// Finish reasons reported by session backends. Any other finish_details type
// is passed through unchanged.
const (
	FinishStop      = "stop"
	FinishMaxTokens = "max_tokens"
	FinishError     = "error"
)

// Conversation is the per-turn state threaded through the stream parser.
type Conversation struct {
	// ConversationID is the backend's id, empty until the first payload names it.
	ConversationID string `json:"conversation_id,omitempty"`
	// MessageID is the parent pointer for the next message.
	MessageID string `json:"message_id"`
	// FinishReason is empty until the turn finishes.
	FinishReason string `json:"finish_reason,omitempty"`
	// IsRecipient gates text: only content addressed to "all" is surfaced.
	IsRecipient bool `json:"is_recipient"`
}

// NewConversation starts a conversation. An empty parentMessageID is
// replaced with a fresh UUID. The gate starts open so plain text payloads
// arriving before any message metadata are surfaced.
func NewConversation(conversationID, parentMessageID string) *Conversation {
	if parentMessageID == "" {
		parentMessageID = uuid.NewString()
	}
	return &Conversation{
		ConversationID: conversationID,
		MessageID:      parentMessageID,
		IsRecipient:    true,
	}
}

// Clone returns an independent copy. A nil conversation clones to nil.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Finished reports whether a finish reason has been recorded.
func (c *Conversation) Finished() bool {
	return c != nil && c.FinishReason != ""
}

// Finish records reason unless the conversation already finished. It reports
// whether the transition happened.
func (c *Conversation) Finish(reason string) bool {
	if c.Finished() || reason == "" {
		return false
	}
	c.FinishReason = reason
	return true
}

// ResetFinish clears the finish reason before a continuation request.
func (c *Conversation) ResetFinish() {
	c.FinishReason = ""
}
