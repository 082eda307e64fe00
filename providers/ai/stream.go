package ai

import (
	"errors"
	"iter"
	"strings"
)

// StreamEventType identifies the kind of delta carried by a StreamEvent.
type StreamEventType string

const (
	// StreamEventContent indicates a text fragment.
	StreamEventContent StreamEventType = "content"
	// StreamEventImage carries a resolved image.
	StreamEventImage StreamEventType = "image"
	// StreamEventConversation carries the conversation identity as soon as it is known.
	StreamEventConversation StreamEventType = "conversation"
	// StreamEventSynthesize marks that audio for the finished message can be fetched.
	StreamEventSynthesize StreamEventType = "synthesize"
	// StreamEventLogin carries a URL the user must open to log in.
	StreamEventLogin StreamEventType = "login"
	// StreamEventDone signals that the turn has finished.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent represents a single delta yielded during a turn.
// Each event carries exactly one type of payload, identified by the Type field.
type StreamEvent struct {
	Type         StreamEventType   `json:"type"`
	Content      string            `json:"content,omitempty"`       // Type == StreamEventContent
	Image        *ImageResult      `json:"image,omitempty"`         // Type == StreamEventImage
	Conversation *Conversation     `json:"conversation,omitempty"`  // Type == StreamEventConversation or StreamEventDone
	Synthesize   *SynthesizeParams `json:"synthesize,omitempty"`    // Type == StreamEventSynthesize
	LoginURL     string            `json:"login_url,omitempty"`     // Type == StreamEventLogin
	FinishReason string            `json:"finish_reason,omitempty"` // Type == StreamEventDone
}

// ChatStream wraps a streaming iterator and provides automatic accumulation
// of deltas into a final ChatResponse.
//
// Important: callers must consume the stream, either by iterating with Iter()
// (breaking out of the loop early is fine) or by calling Collect(). The
// provider holds an open response body until the iterator completes or is
// abandoned.
type ChatStream struct {
	iterator iter.Seq2[StreamEvent, error]
}

// NewChatStream creates a ChatStream from a raw streaming iterator.
func NewChatStream(iterator iter.Seq2[StreamEvent, error]) *ChatStream {
	return &ChatStream{iterator: iterator}
}

// NewSingleEventStream wraps a synchronous ChatResponse as a stream: content,
// images, then one done event.
func NewSingleEventStream(response *ChatResponse) *ChatStream {
	iteratorFunc := func(yield func(StreamEvent, error) bool) {
		if response.Content != "" {
			if !yield(StreamEvent{Type: StreamEventContent, Content: response.Content}, nil) {
				return
			}
		}
		for i := range response.Images {
			if !yield(StreamEvent{Type: StreamEventImage, Image: &response.Images[i]}, nil) {
				return
			}
		}
		yield(StreamEvent{Type: StreamEventDone, FinishReason: response.FinishReason, Conversation: response.Conversation}, nil)
	}
	return NewChatStream(iteratorFunc)
}

// Iter returns the underlying iterator for use with range-over-func loops.
//
// Example:
//
//	for event, err := range stream.Iter() {
//	    if errors.Is(err, ai.ErrImageResolution) { continue }
//	    if err != nil { return err }
//	    fmt.Print(event.Content)
//	}
func (stream *ChatStream) Iter() iter.Seq2[StreamEvent, error] {
	return stream.iterator
}

// Collect consumes the entire stream and returns the accumulated ChatResponse.
// Image resolution failures are recorded in ImageErrors and collection
// continues; any other error ends collection and returns the partial
// response with the error.
func (stream *ChatStream) Collect() (*ChatResponse, error) {
	accumulated := &ChatResponse{}
	var content strings.Builder

	for event, err := range stream.iterator {
		if err != nil {
			if errors.Is(err, ErrImageResolution) {
				accumulated.ImageErrors = append(accumulated.ImageErrors, err)
				continue
			}
			accumulated.Content = content.String()
			return accumulated, err
		}

		switch event.Type {
		case StreamEventContent:
			content.WriteString(event.Content)
		case StreamEventImage:
			if event.Image != nil {
				accumulated.Images = append(accumulated.Images, *event.Image)
			}
		case StreamEventConversation:
			accumulated.Conversation = event.Conversation
		case StreamEventSynthesize:
			accumulated.Synthesize = event.Synthesize
		case StreamEventLogin:
			accumulated.LoginURL = event.LoginURL
		case StreamEventDone:
			accumulated.FinishReason = event.FinishReason
			if event.Conversation != nil {
				accumulated.Conversation = event.Conversation
			}
		}
	}

	accumulated.Content = content.String()
	return accumulated, nil
}
