package ai

/*
	##### PROVIDER INPUT #####
*/

// ChatRequest is the normalized envelope sent to a provider. It is rebuilt
// for every turn.
type ChatRequest struct {
	Model            string            `json:"model,omitempty"`             // Model name or alias
	Messages         []Message         `json:"messages"`                    // Full message history, oldest first
	Images           []ImageInput      `json:"-"`                           // Optional images attached to the last user message
	GenerationConfig *GenerationConfig `json:"generation_config,omitempty"` // Optional generation parameters
	Stream           bool              `json:"stream,omitempty"`            // Ask the backend for incremental output

	// Conversation continues an earlier exchange. Nil starts a new one.
	Conversation *Conversation `json:"-"`
	// Action overrides the conversation action ("next", "continue", "variant").
	Action Action `json:"action,omitempty"`
}

// Message represents a single message in a conversation
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ImageInput is a raw image attached to a request.
type ImageInput struct {
	Data []byte
	Name string
}

type GenerationConfig struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`  // Maximum output tokens
	Temperature *float64 `json:"temperature,omitempty"` // Sampling temperature
	TopP        *float64 `json:"top_p,omitempty"`       // Nucleus sampling probability
}

// Action is the conversation action understood by session backends.
type Action string

const (
	ActionNext     Action = "next"
	ActionContinue Action = "continue"
	ActionVariant  Action = "variant"
)

/*
	##### PROVIDER OUTPUT #####
*/

// ImageResult is a resolved image: a download URL and the prompt that produced it.
type ImageResult struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt,omitempty"`
}

// SynthesizeParams identifies a finished assistant message whose audio can
// be fetched from the backend.
type SynthesizeParams struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Voice          string `json:"voice"`
}

// ChatResponse is the accumulated result of a turn.
type ChatResponse struct {
	Model        string        `json:"model,omitempty"`
	Content      string        `json:"content"`
	Images       []ImageResult `json:"images,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`

	// Conversation is the state reached at the end of the turn; pass it in the
	// next ChatRequest to continue.
	Conversation *Conversation     `json:"-"`
	Synthesize   *SynthesizeParams `json:"synthesize,omitempty"`
	LoginURL     string            `json:"login_url,omitempty"`

	// ImageErrors collects per-asset failures that did not end the turn.
	ImageErrors []error `json:"-"`
}

// MessageRole represents the role of a message; compatible with string
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)
