package client

import (
	"context"
	"strings"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/observability"
)

// NewObservabilityMiddleware records a turn span, the turn counter and the
// turn duration for every request.
//
// The span and the observer are stored in the context before next is called,
// so providers can attach state events and retry counts to the same turn via
// [observability.SpanFromContext] and [observability.ObserverFromContext].
//
// For streams, completion is recorded when the done event is reached, when a
// fatal error is yielded or when the caller stops iterating. Image resolution
// failures are logged as warnings and do not end the span.
//
// [New] prepends this middleware when [WithObserver] is given, so it measures
// the outcome after every other middleware has run.
func NewObservabilityMiddleware(observer observability.Provider, defaultModel string) MiddlewareConfig {
	return MiddlewareConfig{
		Send:   buildObsSend(observer, defaultModel),
		Stream: buildObsStream(observer, defaultModel),
	}
}

// turnObservation carries the span and timer of one turn.
type turnObservation struct {
	observer observability.Provider
	span     observability.Span
	timer    *utils.Timer
	model    string
	action   ai.Action
}

func startTurn(ctx context.Context, observer observability.Provider, request ai.ChatRequest, defaultModel, kind string) (context.Context, *turnObservation) {
	model := effectiveModel(request.Model, defaultModel)
	action := request.Action
	if action == "" {
		action = ai.ActionNext
	}

	ctx, span := observer.StartSpan(ctx, observability.SpanTurn,
		observability.String(observability.AttrModel, model),
		observability.String(observability.AttrAction, string(action)),
	)
	ctx = observability.ContextWithSpan(ctx, span)
	ctx = observability.ContextWithObserver(ctx, observer)

	observer.Counter(observability.MetricTurnCount).Add(ctx, 1,
		observability.String(observability.AttrModel, model),
	)
	observer.Debug(ctx, "turn "+kind,
		observability.String(observability.AttrModel, model),
		observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
		observability.Int(observability.AttrRequestImagesCount, len(request.Images)),
	)

	return ctx, &turnObservation{
		observer: observer,
		span:     span,
		timer:    utils.NewTimer(nil),
		model:    model,
		action:   action,
	}
}

func (o *turnObservation) duration(ctx context.Context, status string) {
	elapsed := o.timer.Stop()
	o.observer.Histogram(observability.MetricTurnDuration).Record(ctx, float64(elapsed.Milliseconds()),
		observability.String(observability.AttrModel, o.model),
		observability.String(observability.AttrStatus, status),
	)
}

func (o *turnObservation) fail(ctx context.Context, err error) {
	o.duration(ctx, "error")

	o.span.RecordError(err)
	o.span.SetStatus(observability.StatusError, "turn failed")
	o.span.End()

	o.observer.Error(ctx, "turn failed",
		observability.Error(err),
		observability.String(observability.AttrModel, o.model),
		observability.Duration(observability.AttrDuration, o.timer.Elapsed()),
	)
}

func (o *turnObservation) succeed(ctx context.Context, response *ai.ChatResponse) {
	o.duration(ctx, "success")

	attrs := []observability.Attribute{
		observability.String(observability.AttrModel, o.model),
		observability.String(observability.AttrFinishReason, response.FinishReason),
		observability.Duration(observability.AttrDuration, o.timer.Elapsed()),
	}
	if response.Conversation != nil && response.Conversation.ConversationID != "" {
		attrs = append(attrs, observability.String(observability.AttrConversationID, response.Conversation.ConversationID))
	}
	o.span.SetAttributes(attrs...)

	if len(response.Images) > 0 {
		attrs = append(attrs, observability.Int("images", len(response.Images)))
	}
	if response.Content != "" {
		attrs = append(attrs, observability.String("response", utils.TruncateString(response.Content, 100)))
	}
	o.observer.Info(ctx, "turn completed", attrs...)

	o.span.SetStatus(observability.StatusOK, "success")
	o.span.End()
}

func buildObsSend(observer observability.Provider, defaultModel string) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			ctx, turn := startTurn(ctx, observer, request, defaultModel, "send")

			response, err := next(ctx, request)
			if err != nil {
				turn.fail(ctx, err)
				return response, err
			}
			for _, imageErr := range response.ImageErrors {
				observer.Warn(ctx, "image not resolved", observability.Error(imageErr))
			}

			turn.succeed(ctx, response)
			return response, nil
		}
	}
}

func buildObsStream(observer observability.Provider, defaultModel string) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			ctx, turn := startTurn(ctx, observer, request, defaultModel, "stream")

			stream, err := next(ctx, request)
			if err != nil {
				turn.fail(ctx, err)
				return nil, err
			}
			return wrapStreamWithObservability(ctx, stream, turn), nil
		}
	}
}

// wrapStreamWithObservability passes events through unchanged and closes the
// turn span once the stream ends, fails or is abandoned.
func wrapStreamWithObservability(ctx context.Context, stream *ai.ChatStream, turn *turnObservation) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		summary := &ai.ChatResponse{Model: turn.model}
		var content strings.Builder

		for event, err := range stream.Iter() {
			if Fatal(err) {
				turn.fail(ctx, err)
				yield(event, err)
				return
			}
			if err != nil {
				turn.observer.Warn(ctx, "image not resolved", observability.Error(err))
			} else {
				switch event.Type {
				case ai.StreamEventContent:
					content.WriteString(event.Content)
				case ai.StreamEventImage:
					if event.Image != nil {
						summary.Images = append(summary.Images, *event.Image)
					}
				case ai.StreamEventConversation, ai.StreamEventDone:
					if event.Conversation != nil {
						summary.Conversation = event.Conversation
					}
					summary.FinishReason = event.FinishReason
				}
			}

			if !yield(event, err) {
				turn.duration(ctx, "abandoned")
				turn.span.SetStatus(observability.StatusOK, "abandoned")
				turn.span.End()
				turn.observer.Info(ctx, "turn abandoned",
					observability.String(observability.AttrModel, turn.model),
					observability.Duration(observability.AttrDuration, turn.timer.Elapsed()),
				)
				return
			}
			if err == nil && event.Type == ai.StreamEventDone {
				break
			}
		}

		summary.Content = content.String()
		turn.succeed(ctx, summary)
	})
}

// effectiveModel returns the request model, or the client default when the
// request leaves it empty. Both may be empty; the provider then picks.
func effectiveModel(requestModel, defaultModel string) string {
	if requestModel != "" {
		return requestModel
	}
	return defaultModel
}
