package ai

import (
	"errors"
	"testing"
)

func TestNewConversation(t *testing.T) {
	fresh := NewConversation("", "")
	if fresh.MessageID == "" {
		t.Error("expected a generated parent message id")
	}
	if !fresh.IsRecipient {
		t.Error("expected a fresh conversation to surface text")
	}

	other := NewConversation("", "")
	if fresh.MessageID == other.MessageID {
		t.Error("expected distinct generated ids")
	}

	continued := NewConversation("c1", "m1")
	if continued.ConversationID != "c1" || continued.MessageID != "m1" {
		t.Errorf("unexpected conversation %+v", continued)
	}
}

func TestConversation_FinishIsMonotonic(t *testing.T) {
	conversation := NewConversation("", "m0")

	if !conversation.Finish(FinishMaxTokens) {
		t.Fatal("expected the first finish to transition")
	}
	if conversation.Finish(FinishStop) {
		t.Error("expected a second finish to be ignored")
	}
	if conversation.FinishReason != FinishMaxTokens {
		t.Errorf("expected %q to stick, got %q", FinishMaxTokens, conversation.FinishReason)
	}

	conversation.ResetFinish()
	if conversation.Finished() {
		t.Error("expected reset to clear the finish reason")
	}
}

func TestConversation_Clone(t *testing.T) {
	var nilConversation *Conversation
	if nilConversation.Clone() != nil {
		t.Error("expected nil clone of nil")
	}

	original := NewConversation("c1", "m1")
	clone := original.Clone()
	clone.MessageID = "m2"
	if original.MessageID != "m1" {
		t.Error("expected clone to be independent")
	}
}

func TestErrAmbiguousTermination_IsStreamProtocol(t *testing.T) {
	if !errors.Is(ErrAmbiguousTermination, ErrStreamProtocol) {
		t.Error("expected ambiguous termination to be a stream protocol error")
	}
}
