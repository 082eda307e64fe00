package airforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
)

// fakeAPI serves the airforce endpoints used by the provider.
type fakeAPI struct {
	completion   func(w http.ResponseWriter, body completionRequest)
	modelsStatus int

	mu       sync.Mutex
	bodies   []completionRequest
	headers  []http.Header
	paths    []string
	imagineQ string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	switch r.URL.Path {
	case "/imagine2/models":
		if f.modelsStatus != 0 {
			http.Error(w, "down", f.modelsStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `["flux","sdxl-flash"]`)

	case "/models":
		if f.modelsStatus != 0 {
			http.Error(w, "down", f.modelsStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":"gpt-4o-mini"},{"id":"Flux-1.1-Pro"},{"id":"llama-3.1-8b-chat"}]}`)

	case completionsEndpoint:
		var body completionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		f.completion(w, body)

	case imagineEndpoint:
		f.mu.Lock()
		f.imagineQ = r.URL.RawQuery
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		http.Redirect(w, r, "/images/generated.png", http.StatusFound)

	case "/images/generated.png":
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))

	case "/check":
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("key") {
		case "sponsor":
			_, _ = io.WriteString(w, `{"info":"Sponsor key"}`)
		case "basic":
			_, _ = io.WriteString(w, `{"info":"Basic key"}`)
		default:
			http.Error(w, `{"error":"invalid key"}`, http.StatusForbidden)
		}

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if p == path {
			n++
		}
	}
	return n
}

func writeSSE(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func contentChunk(content string) string {
	raw, _ := json.Marshal(content)
	return `{"choices":[{"index":0,"delta":{"content":` + string(raw) + `},"finish_reason":null}]}`
}

func newTestProvider(t *testing.T, api *fakeAPI) *Provider {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	provider := New()
	provider.WithBaseURL(server.URL)
	provider.WithAPIKey("test-key")
	provider.WithHttpClient(server.Client())
	provider.seed = func() int { return 42 }
	return provider
}

func userRequest(model, content string) ai.ChatRequest {
	return ai.ChatRequest{Model: model, Messages: []ai.Message{{Role: ai.RoleUser, Content: content}}}
}

func TestNew_ReadsEnvironment(t *testing.T) {
	t.Setenv("AIRFORCE_API_KEY", "env-key")
	t.Setenv("AIRFORCE_BASE_URL", "https://proxy.example/")

	provider := New()
	if provider.apiKey != "env-key" {
		t.Errorf("expected api key from env, got %q", provider.apiKey)
	}
	if provider.baseURL != "https://proxy.example" {
		t.Errorf("expected trimmed base url, got %q", provider.baseURL)
	}
	if provider.Name() != "airforce" {
		t.Errorf("unexpected name %q", provider.Name())
	}
}

func TestSendMessage_FiltersCompletion(t *testing.T) {
	api := &fakeAPI{completion: func(w http.ResponseWriter, _ completionRequest) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Assistant: Hello</s>"},"finish_reason":"stop"}]}`)
	}}
	provider := newTestProvider(t, api)

	response, err := provider.SendMessage(context.Background(), userRequest("gpt-4", "Hi"))
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if response.Content != "Hello" {
		t.Errorf("expected filtered content 'Hello', got %q", response.Content)
	}
	if response.Model != "gpt-4o" || response.FinishReason != ai.FinishStop {
		t.Errorf("unexpected model/finish: %q/%q", response.Model, response.FinishReason)
	}

	body := api.bodies[0]
	if body.Model != "gpt-4o" || body.Stream || body.MaxTokens != 4096 || body.Temperature != 1 || body.TopP != 1 {
		t.Errorf("unexpected request body: %+v", body)
	}
	if got := api.headers[0].Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", got)
	}
	if got := api.headers[0].Get("User-Agent"); got != userAgent {
		t.Errorf("unexpected user agent %q", got)
	}
}

func TestSendMessage_GenerationConfig(t *testing.T) {
	api := &fakeAPI{completion: func(w http.ResponseWriter, _ completionRequest) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}}
	provider := newTestProvider(t, api)

	temperature, topP := 0.2, 0.9
	request := userRequest("", "Hi")
	request.GenerationConfig = &ai.GenerationConfig{MaxTokens: 64, Temperature: &temperature, TopP: &topP}

	response, err := provider.SendMessage(context.Background(), request)
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if response.FinishReason != ai.FinishStop {
		t.Errorf("expected default finish reason, got %q", response.FinishReason)
	}
	body := api.bodies[0]
	if body.Model != defaultModel || body.MaxTokens != 64 || body.Temperature != 0.2 || body.TopP != 0.9 {
		t.Errorf("generation config not applied: %+v", body)
	}
}

func TestSendMessage_SplitsLongMessages(t *testing.T) {
	api := &fakeAPI{completion: func(w http.ResponseWriter, _ completionRequest) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}}
	provider := newTestProvider(t, api)

	if _, err := provider.SendMessage(context.Background(), userRequest("", strings.Repeat("word ", 500))); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	messages := api.bodies[0].Messages
	if len(messages) != 3 {
		t.Fatalf("expected the message to be split in 3 chunks, got %d", len(messages))
	}
	for _, message := range messages {
		if message.Role != ai.RoleUser || len(message.Content) > maxMessageLength {
			t.Errorf("bad chunk: role %q, %d chars", message.Role, len(message.Content))
		}
	}
}

func TestStreamMessage_FiltersFragments(t *testing.T) {
	api := &fakeAPI{completion: func(w http.ResponseWriter, body completionRequest) {
		if !body.Stream {
			t.Error("expected a streaming request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, contentChunk("Hello"))
		writeSSE(w, contentChunk("<|im_end|>"))
		writeSSE(w, `{"choices":[{"delta":{"content":`)
		writeSSE(w, contentChunk(" world"))
		writeSSE(w, `{"choices":[{"delta":{},"finish_reason":"length"}]}`)
		writeSSE(w, "[DONE]")
	}}
	provider := newTestProvider(t, api)

	stream, err := provider.StreamMessage(context.Background(), userRequest("llama-3.1-8b", "Hi"))
	if err != nil {
		t.Fatalf("StreamMessage returned error: %v", err)
	}

	var contents []string
	var finish string
	for event, err := range stream.Iter() {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		switch event.Type {
		case ai.StreamEventContent:
			contents = append(contents, event.Content)
		case ai.StreamEventDone:
			finish = event.FinishReason
		}
	}
	if !slices.Equal(contents, []string{"Hello", " world"}) {
		t.Errorf("unexpected fragments %q", contents)
	}
	if finish != "length" {
		t.Errorf("expected finish reason 'length', got %q", finish)
	}
	if api.bodies[0].Model != "llama-3.1-8b-chat" {
		t.Errorf("alias not resolved: %q", api.bodies[0].Model)
	}
	if got := api.headers[0].Get("Accept"); got != "application/json, text/event-stream" {
		t.Errorf("unexpected accept header %q", got)
	}
}

func TestSendMessage_StreamCollects(t *testing.T) {
	api := &fakeAPI{completion: func(w http.ResponseWriter, _ completionRequest) {
		writeSSE(w, contentChunk("AI: one"))
		writeSSE(w, contentChunk(" two"))
		writeSSE(w, "[DONE]")
	}}
	provider := newTestProvider(t, api)

	request := userRequest("", "Hi")
	request.Stream = true
	response, err := provider.SendMessage(context.Background(), request)
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if response.Content != "one two" {
		t.Errorf("expected 'one two', got %q", response.Content)
	}
	if response.Model != defaultModel || response.FinishReason != ai.FinishStop {
		t.Errorf("unexpected model/finish: %q/%q", response.Model, response.FinishReason)
	}
}

func TestSendMessage_ImageModel(t *testing.T) {
	api := &fakeAPI{}
	provider := newTestProvider(t, api)
	provider.WithImageSize("16:9")

	response, err := provider.SendMessage(context.Background(), ai.ChatRequest{
		Model: "flux",
		Messages: []ai.Message{
			{Role: ai.RoleUser, Content: "earlier"},
			{Role: ai.RoleUser, Content: "a red fox"},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(response.Images) != 1 {
		t.Fatalf("expected one image, got %d", len(response.Images))
	}
	image := response.Images[0]
	if !strings.HasSuffix(image.URL, "/images/generated.png") || image.Prompt != "a red fox" {
		t.Errorf("unexpected image %+v", image)
	}
	if api.imagineQ != "model=flux&prompt=a+red+fox&seed=42&size=16%3A9" {
		t.Errorf("unexpected imagine query %q", api.imagineQ)
	}
	if len(api.bodies) != 0 {
		t.Error("image models must not call the completions endpoint")
	}
}

func TestStreamMessage_ImageModel(t *testing.T) {
	api := &fakeAPI{}
	provider := newTestProvider(t, api)

	stream, err := provider.StreamMessage(context.Background(), userRequest("midjourney", "castle"))
	if err != nil {
		t.Fatalf("StreamMessage returned error: %v", err)
	}
	response, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(response.Images) != 1 || response.Images[0].Prompt != "castle" {
		t.Errorf("unexpected images %+v", response.Images)
	}
	if response.FinishReason != ai.FinishStop {
		t.Errorf("expected stop, got %q", response.FinishReason)
	}
}

func TestSendMessage_UpstreamRejected(t *testing.T) {
	api := &fakeAPI{completion: func(w http.ResponseWriter, _ completionRequest) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}}
	provider := newTestProvider(t, api)

	_, err := provider.SendMessage(context.Background(), userRequest("", "Hi"))
	if !errors.Is(err, ai.ErrUpstreamRejected) {
		t.Fatalf("expected ErrUpstreamRejected, got %v", err)
	}
	if utils.StatusCode(err) != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", utils.StatusCode(err))
	}

	_, err = provider.StreamMessage(context.Background(), userRequest("", "Hi"))
	if !errors.Is(err, ai.ErrUpstreamRejected) {
		t.Fatalf("expected ErrUpstreamRejected from stream, got %v", err)
	}
}

func TestSendMessage_RejectsEmptyRequest(t *testing.T) {
	provider := newTestProvider(t, &fakeAPI{})
	if _, err := provider.SendMessage(context.Background(), ai.ChatRequest{}); err == nil {
		t.Fatal("expected an error for a request without messages")
	}
}

func TestModels(t *testing.T) {
	api := &fakeAPI{}
	provider := newTestProvider(t, api)

	want := []string{"gpt-4o-mini", "llama-3.1-8b-chat", "flux", "sdxl-flash", "flux-1.1-pro", "midjourney", "dall-e-3"}
	for range 2 {
		if got := provider.Models(context.Background()); !slices.Equal(got, want) {
			t.Errorf("Models() = %q, want %q", got, want)
		}
	}
	if api.count("/models") != 1 || api.count("/imagine2/models") != 1 {
		t.Errorf("model lists should be fetched once, got %d and %d", api.count("/models"), api.count("/imagine2/models"))
	}
}

func TestModels_Fallback(t *testing.T) {
	api := &fakeAPI{modelsStatus: http.StatusServiceUnavailable}
	provider := newTestProvider(t, api)

	want := []string{defaultModel, defaultImageModel, "flux-1.1-pro", "midjourney", "dall-e-3"}
	if got := provider.Models(context.Background()); !slices.Equal(got, want) {
		t.Errorf("Models() = %q, want %q", got, want)
	}
	provider.Models(context.Background())
	if api.count("/models") != 2 {
		t.Errorf("failed fetches must not be cached, got %d calls", api.count("/models"))
	}
}

func TestCheckAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{key: "", want: true},
		{key: "null", want: true},
		{key: "sponsor", want: true},
		{key: "basic", want: false},
		{key: "bogus", want: false},
	}
	api := &fakeAPI{}
	provider := newTestProvider(t, api)
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			provider.WithAPIKey(tt.key)
			got, err := provider.CheckAPIKey(context.Background())
			if err != nil {
				t.Fatalf("CheckAPIKey returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckAPIKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
