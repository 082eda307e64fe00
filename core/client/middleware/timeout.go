package middleware

import (
	"context"
	"time"

	"github.com/leofalp/webchat/core/client"
	"github.com/leofalp/webchat/providers/ai"
)

// NewTimeoutMiddleware bounds the whole turn: credential acquisition, the
// 403 retry waits, the stream itself and image resolution all share one
// deadline.
//
// For streams the context is cancelled once the done event is reached, a
// fatal error is yielded or the caller stops iterating, so the deadline
// covers the stream's full lifetime rather than the time to first byte.
// Image resolution failures do not end the stream.
//
// A shorter deadline already present on the caller's context wins.
func NewTimeoutMiddleware(timeout time.Duration) client.MiddlewareConfig {
	return client.MiddlewareConfig{
		Send:   buildSendTimeout(timeout),
		Stream: buildStreamTimeout(timeout),
	}
}

func buildSendTimeout(timeout time.Duration) client.Middleware {
	return func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return next(ctx, request)
		}
	}
}

func buildStreamTimeout(timeout time.Duration) client.StreamMiddleware {
	return func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			stream, err := next(ctx, request)
			if err != nil {
				cancel()
				return nil, err
			}
			return wrapStreamWithCancel(stream, cancel), nil
		}
	}
}

// wrapStreamWithCancel calls cancel when the stream ends.
func wrapStreamWithCancel(stream *ai.ChatStream, cancel context.CancelFunc) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		defer cancel()

		for event, err := range stream.Iter() {
			if !yield(event, err) {
				return
			}
			if client.Fatal(err) {
				return
			}
			if err == nil && event.Type == ai.StreamEventDone {
				return
			}
		}
	})
}
