package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSSEScanner_Events(t *testing.T) {
	input := ": comment\nevent: update\ndata: first\n\n\n\ndata: line1\ndata: line2\n\ndata: [DONE]\n\ndata: after"
	scanner := NewSSEScanner(strings.NewReader(input))

	for _, expected := range []string{"first", "line1\nline2"} {
		payload, err := scanner.Next()
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if payload != expected {
			t.Errorf("expected %q, got %q", expected, payload)
		}
	}

	if _, err := scanner.Next(); err != io.EOF {
		t.Errorf("expected io.EOF on [DONE], got %v", err)
	}
}

func TestSSEScanner_TrailingDataWithoutBlankLine(t *testing.T) {
	scanner := NewSSEScanner(strings.NewReader("data:   padded   "))

	payload, err := scanner.Next()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if payload != "padded" {
		t.Errorf("expected %q, got %q", "padded", payload)
	}
}

func TestLines_YieldsRawLines(t *testing.T) {
	var got []string
	for line, err := range Lines(strings.NewReader("data: {\"v\":1}\n\ndata: [DONE]\n")) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, string(line))
	}

	want := []string{`data: {"v":1}`, "", "data: [DONE]"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestLines_TooLongLine(t *testing.T) {
	huge := strings.Repeat("x", maxSSELineSize+10)

	var lastErr error
	for _, err := range Lines(strings.NewReader(huge)) {
		lastErr = err
	}
	if lastErr == nil {
		t.Fatal("expected an error for an oversized line")
	}
}

func TestLines_StopsEarly(t *testing.T) {
	count := 0
	for range Lines(strings.NewReader("a\nb\nc\n")) {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected early stop after one line, got %d", count)
	}
}

func TestDoPostStream_SuccessLeavesBodyOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("expected SSE accept header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: chunk1\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	response, err := DoPostStream(context.Background(), server.Client(), server.URL, "test-key", map[string]string{"q": "test"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer CloseWithLog(response.Body)

	payload, err := NewSSEScanner(response.Body).Next()
	if err != nil {
		t.Fatalf("expected nil error reading SSE, got %v", err)
	}
	if payload != "chunk1" {
		t.Errorf("expected %q, got %q", "chunk1", payload)
	}
}

func TestDoPostStream_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"token expired"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	response, err := DoPostStream(context.Background(), server.Client(), server.URL, "", map[string]string{})
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
	if response == nil {
		t.Fatal("expected the response to be returned alongside the error")
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("expected body in error, got %v", err)
	}
}
