package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/leofalp/webchat/providers/ai"
)

// callRecorder records whether a middleware was invoked and in what order.
type callRecorder struct {
	order        *[]string
	name         string
	calledSend   bool
	calledStream bool
}

func newCallRecorder(name string, sharedOrder *[]string) *callRecorder {
	return &callRecorder{order: sharedOrder, name: name}
}

func (rec *callRecorder) sendMiddleware() Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			rec.calledSend = true
			*rec.order = append(*rec.order, rec.name)
			return next(ctx, request)
		}
	}
}

func (rec *callRecorder) streamMiddleware() StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			rec.calledStream = true
			*rec.order = append(*rec.order, rec.name+"-stream")
			return next(ctx, request)
		}
	}
}

func TestBuildSendChain_EmptyMiddlewares(t *testing.T) {
	chain := buildSendChain(&mockProvider{}, nil)

	resp, err := chain(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Content != "test response" {
		t.Errorf("expected 'test response', got %q", resp.Content)
	}
}

// TestBuildSendChain_Order verifies outermost-first execution order.
func TestBuildSendChain_Order(t *testing.T) {
	order := []string{}
	rec1 := newCallRecorder("mw1", &order)
	rec2 := newCallRecorder("mw2", &order)
	rec3 := newCallRecorder("mw3", &order)

	chain := buildSendChain(&mockProvider{}, []MiddlewareConfig{
		{Send: rec1.sendMiddleware()},
		{Send: rec2.sendMiddleware()},
		{Send: rec3.sendMiddleware()},
	})
	if _, err := chain(context.Background(), ai.ChatRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []string{"mw1", "mw2", "mw3"}; !slices.Equal(order, want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestBuildSendChain_ShortCircuit(t *testing.T) {
	provider := &mockProvider{}
	shortCircuitError := errors.New("short-circuit")
	shortCircuit := Middleware(func(SendFunc) SendFunc {
		return func(context.Context, ai.ChatRequest) (*ai.ChatResponse, error) {
			return nil, shortCircuitError
		}
	})

	order := []string{}
	rec := newCallRecorder("after", &order)
	chain := buildSendChain(provider, []MiddlewareConfig{
		{Send: shortCircuit},
		{Send: rec.sendMiddleware()},
	})

	_, err := chain(context.Background(), ai.ChatRequest{})
	if !errors.Is(err, shortCircuitError) {
		t.Fatalf("expected short-circuit error, got %v", err)
	}
	if rec.calledSend || len(provider.requests) != 0 {
		t.Error("nothing after the short-circuit should run")
	}
}

func TestBuildStreamChain_SkipsNilStream(t *testing.T) {
	order := []string{}
	rec := newCallRecorder("send-only", &order)

	chain := buildStreamChain(&mockStreamProvider{events: streamedTurn()}, []MiddlewareConfig{
		{Send: rec.sendMiddleware()},
	})
	if _, err := chain(context.Background(), ai.ChatRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.calledStream || rec.calledSend {
		t.Error("an entry without Stream must not run on the stream chain")
	}
}

func TestBuildStreamChain_Order(t *testing.T) {
	order := []string{}
	rec1 := newCallRecorder("mw1", &order)
	rec2 := newCallRecorder("mw2", &order)

	chain := buildStreamChain(&mockStreamProvider{events: streamedTurn()}, []MiddlewareConfig{
		{Send: rec1.sendMiddleware(), Stream: rec1.streamMiddleware()},
		{Send: rec2.sendMiddleware(), Stream: rec2.streamMiddleware()},
	})
	if _, err := chain(context.Background(), ai.ChatRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []string{"mw1-stream", "mw2-stream"}; !slices.Equal(order, want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

// TestBuildStreamChain_SendFallbackError verifies that a provider without
// streaming support surfaces its send error before any stream exists.
func TestBuildStreamChain_SendFallbackError(t *testing.T) {
	provider := &mockProvider{
		sendMessageFunc: func(context.Context, ai.ChatRequest) (*ai.ChatResponse, error) {
			return nil, ai.ErrAuthenticationMissing
		},
	}
	stream, err := buildStreamChain(provider, nil)(context.Background(), ai.ChatRequest{})
	if !errors.Is(err, ai.ErrAuthenticationMissing) {
		t.Fatalf("expected ErrAuthenticationMissing, got %v", err)
	}
	if stream != nil {
		t.Error("expected no stream on error")
	}
}

func TestWithMiddleware_TurnsCallChain(t *testing.T) {
	tests := []struct {
		name       string
		run        func(c *Client) error
		wantSend   bool
		wantStream bool
	}{
		{
			name: "send",
			run: func(c *Client) error {
				_, err := c.SendMessage(context.Background(), "hello")
				return err
			},
			wantSend: true,
		},
		{
			name: "continue",
			run: func(c *Client) error {
				_, err := c.Continue(context.Background())
				return err
			},
			wantSend: true,
		},
		{
			name: "stream",
			run: func(c *Client) error {
				_, err := c.StreamMessage(context.Background(), "hello")
				return err
			},
			wantStream: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := []string{}
			rec := newCallRecorder("mw", &order)
			c, err := New(&mockStreamProvider{events: streamedTurn()}, WithMiddleware(MiddlewareConfig{
				Send:   rec.sendMiddleware(),
				Stream: rec.streamMiddleware(),
			}))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := tt.run(c); err != nil {
				t.Fatalf("turn: %v", err)
			}
			if rec.calledSend != tt.wantSend || rec.calledStream != tt.wantStream {
				t.Errorf("send=%v stream=%v, want send=%v stream=%v",
					rec.calledSend, rec.calledStream, tt.wantSend, tt.wantStream)
			}
		})
	}
}

func TestFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: ai.ErrImageResolution, want: false},
		{err: fmt.Errorf("file-1: %w", ai.ErrImageResolution), want: false},
		{err: ai.ErrAmbiguousTermination, want: true},
		{err: context.Canceled, want: true},
	}
	for _, tt := range tests {
		if got := Fatal(tt.err); got != tt.want {
			t.Errorf("Fatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
