package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/leofalp/webchat/core/client"
	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
)

// LogLevel controls how much detail the logging middleware emits per turn.
type LogLevel int

const (
	// LogLevelMinimal logs the model, the action and the duration.
	LogLevelMinimal LogLevel = iota

	// LogLevelStandard adds message and image counts, the conversation id and
	// the finish reason. This is the recommended default.
	LogLevelStandard

	// LogLevelVerbose adds the last user message and the answer, each truncated
	// to 500 bytes.
	//
	// WARNING: do not use LogLevelVerbose in production. Prompts and answers may
	// contain personal data.
	LogLevelVerbose
)

const truncateLen = 500

// NewLoggingMiddleware logs every turn before and after the provider call.
// For streams the completion entry is written once the done event is reached,
// a fatal error is yielded or the caller stops iterating. Login prompts and
// image resolution failures are logged as they pass.
//
// The logger must not be nil; pass slog.Default() when in doubt.
func NewLoggingMiddleware(logger *slog.Logger, level LogLevel) client.MiddlewareConfig {
	return client.MiddlewareConfig{
		Send:   buildSendLogging(logger, level),
		Stream: buildStreamLogging(logger, level),
	}
}

func buildSendLogging(logger *slog.Logger, level LogLevel) client.Middleware {
	return func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			logger.InfoContext(ctx, "turn send", buildRequestAttrs(request, level)...)

			timer := utils.NewTimer(nil)
			response, err := next(ctx, request)
			elapsed := timer.Stop()

			if err != nil {
				logFailure(ctx, logger, "turn send failed", request, elapsed, err)
				return response, err
			}

			if response.LoginURL != "" {
				logger.InfoContext(ctx, "login required", slog.String("url", response.LoginURL))
			}
			for _, imageErr := range response.ImageErrors {
				logger.WarnContext(ctx, "image not resolved", slog.String("error", imageErr.Error()))
			}
			logger.InfoContext(ctx, "turn send completed", buildResponseAttrs(request, response, elapsed, level)...)
			return response, nil
		}
	}
}

func buildStreamLogging(logger *slog.Logger, level LogLevel) client.StreamMiddleware {
	return func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			logger.InfoContext(ctx, "turn stream", buildRequestAttrs(request, level)...)

			timer := utils.NewTimer(nil)
			stream, err := next(ctx, request)
			if err != nil {
				logFailure(ctx, logger, "turn stream failed", request, timer.Stop(), err)
				return nil, err
			}

			return wrapStreamWithLogging(ctx, stream, logger, request, level, timer), nil
		}
	}
}

// wrapStreamWithLogging passes events through unchanged and writes the
// completion entry when the stream ends.
func wrapStreamWithLogging(
	ctx context.Context,
	stream *ai.ChatStream,
	logger *slog.Logger,
	request ai.ChatRequest,
	level LogLevel,
	timer *utils.Timer,
) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		summary := &ai.ChatResponse{Model: request.Model}
		var content []byte

		for event, err := range stream.Iter() {
			if client.Fatal(err) {
				logFailure(ctx, logger, "turn stream failed", request, timer.Stop(), err)
				yield(event, err)
				return
			}

			if err != nil {
				logger.WarnContext(ctx, "image not resolved", slog.String("error", err.Error()))
			} else {
				switch event.Type {
				case ai.StreamEventContent:
					content = append(content, event.Content...)
				case ai.StreamEventImage:
					if event.Image != nil {
						summary.Images = append(summary.Images, *event.Image)
					}
				case ai.StreamEventLogin:
					logger.InfoContext(ctx, "login required", slog.String("url", event.LoginURL))
				case ai.StreamEventDone:
					summary.FinishReason = event.FinishReason
					summary.Conversation = event.Conversation
				}
			}

			if !yield(event, err) {
				logger.InfoContext(ctx, "turn stream abandoned",
					slog.String("model", request.Model),
					slog.Duration("duration", timer.Stop()),
				)
				return
			}
			if err == nil && event.Type == ai.StreamEventDone {
				break
			}
		}

		summary.Content = string(content)
		logger.InfoContext(ctx, "turn stream completed", buildResponseAttrs(request, summary, timer.Stop(), level)...)
	})
}

func logFailure(ctx context.Context, logger *slog.Logger, msg string, request ai.ChatRequest, elapsed time.Duration, err error) {
	logger.ErrorContext(ctx, msg,
		slog.String("model", request.Model),
		slog.Duration("duration", elapsed),
		slog.String("error", err.Error()),
	)
}

func actionOf(request ai.ChatRequest) string {
	if request.Action == "" {
		return string(ai.ActionNext)
	}
	return string(request.Action)
}

func buildRequestAttrs(request ai.ChatRequest, level LogLevel) []any {
	attrs := []any{
		slog.String("model", request.Model),
		slog.String("action", actionOf(request)),
	}

	if level >= LogLevelStandard {
		attrs = append(attrs,
			slog.Int("message_count", len(request.Messages)),
			slog.Int("image_count", len(request.Images)),
		)
		if request.Conversation != nil && request.Conversation.ConversationID != "" {
			attrs = append(attrs, slog.String("conversation_id", request.Conversation.ConversationID))
		}
	}

	if level >= LogLevelVerbose && len(request.Messages) > 0 {
		last := request.Messages[len(request.Messages)-1]
		attrs = append(attrs,
			slog.String("last_message_role", string(last.Role)),
			slog.String("last_message_content", utils.TruncateString(last.Content, truncateLen)),
		)
	}

	return attrs
}

func buildResponseAttrs(request ai.ChatRequest, response *ai.ChatResponse, elapsed time.Duration, level LogLevel) []any {
	model := response.Model
	if model == "" {
		model = request.Model
	}
	attrs := []any{
		slog.String("model", model),
		slog.String("action", actionOf(request)),
		slog.Duration("duration", elapsed),
	}

	if level >= LogLevelStandard {
		if response.FinishReason != "" {
			attrs = append(attrs, slog.String("finish_reason", response.FinishReason))
		}
		if response.Conversation != nil && response.Conversation.ConversationID != "" {
			attrs = append(attrs, slog.String("conversation_id", response.Conversation.ConversationID))
		}
		if len(response.Images) > 0 {
			attrs = append(attrs, slog.Int("image_count", len(response.Images)))
		}
	}

	if level >= LogLevelVerbose && response.Content != "" {
		attrs = append(attrs, slog.String("response_content", utils.TruncateString(response.Content, truncateLen)))
	}

	return attrs
}
