package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSpan struct {
	events []string
}

func (s *recordingSpan) End()                                  {}
func (s *recordingSpan) SetAttributes(...Attribute)            {}
func (s *recordingSpan) SetStatus(StatusCode, string)          {}
func (s *recordingSpan) RecordError(error)                     {}
func (s *recordingSpan) AddEvent(name string, _ ...Attribute) { s.events = append(s.events, name) }

func TestAttributeConstructors(t *testing.T) {
	tests := []struct {
		name      string
		attribute Attribute
		wantKey   string
		wantValue any
	}{
		{"string", String(AttrModel, "auto"), AttrModel, "auto"},
		{"int", Int(AttrTurnRetriesLeft, 2), AttrTurnRetriesLeft, 2},
		{"float", Float64("x", 1.5), "x", 1.5},
		{"bool", Bool(AttrAuthenticated, true), AttrAuthenticated, true},
		{"duration", Duration(AttrDuration, time.Second), AttrDuration, time.Second},
		{"error", Error(errors.New("boom")), AttrError, "boom"},
		{"nil error", Error(nil), AttrError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attribute.Key != tt.wantKey {
				t.Errorf("expected key %q, got %q", tt.wantKey, tt.attribute.Key)
			}
			if tt.attribute.Value != tt.wantValue {
				t.Errorf("expected value %v, got %v", tt.wantValue, tt.attribute.Value)
			}
		})
	}
}

func TestSpanFromContext_RoundTrip(t *testing.T) {
	if SpanFromContext(context.Background()) != nil {
		t.Fatal("expected no span in an empty context")
	}

	span := &recordingSpan{}
	ctx := ContextWithSpan(context.Background(), span)

	got := SpanFromContext(ctx)
	if got != span {
		t.Fatalf("expected the stored span, got %v", got)
	}

	got.AddEvent(EventTurnState)
	if len(span.events) != 1 || span.events[0] != EventTurnState {
		t.Errorf("expected one %q event, got %v", EventTurnState, span.events)
	}
}

func TestObserverFromContext_Missing(t *testing.T) {
	if ObserverFromContext(context.Background()) != nil {
		t.Error("expected nil observer from an empty context")
	}
	//nolint:staticcheck // nil context is part of the contract
	if ObserverFromContext(nil) != nil {
		t.Error("expected nil observer from a nil context")
	}
}
