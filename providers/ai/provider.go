package ai

import (
	"context"
	"net/http"
)

// StreamProvider is an optional interface for providers that can yield
// deltas as they arrive. Callers detect support via type assertion.
type StreamProvider interface {
	Provider
	// StreamMessage sends a chat request and returns a ChatStream that yields
	// incremental deltas as they arrive. Pre-stream errors (bad request,
	// unknown model) are returned as a normal error; everything after the
	// first network call is yielded through the iterator.
	StreamMessage(ctx context.Context, request ChatRequest) (*ChatStream, error)
}

// Provider is the interface every webchat backend implements.
type Provider interface {
	// SendMessage runs a full turn and returns the accumulated response.
	SendMessage(ctx context.Context, request ChatRequest) (*ChatResponse, error)

	// Name identifies the backend in logs and persisted state.
	Name() string

	// WithAPIKey sets the API key or bearer token used for authenticating requests.
	WithAPIKey(apiKey string) Provider

	// WithBaseURL overrides the default base URL for API requests.
	WithBaseURL(baseURL string) Provider

	// WithHttpClient sets the HTTP client used for outbound requests.
	WithHttpClient(httpClient *http.Client) Provider
}
