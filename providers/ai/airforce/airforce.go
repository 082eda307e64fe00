package airforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/observability"
)

const (
	defaultBaseURL      = "https://api.airforce"
	completionsEndpoint = "/chat/completions"
	imagineEndpoint     = "/imagine2"
	providerName        = "airforce"
	userAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0"

	defaultMaxTokens = 4096
	defaultImageSize = "1:1"
)

// Provider is an OpenAI-compatible completions backend whose output is
// cleaned with Filter.
type Provider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
	imageSize string
	seed      func() int

	modelsMu sync.Mutex
	models   []string
	images   []string
}

// New creates a provider from AIRFORCE_API_KEY and AIRFORCE_BASE_URL.
func New() *Provider {
	baseURL := os.Getenv("AIRFORCE_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		apiKey:    os.Getenv("AIRFORCE_API_KEY"),
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{},
		logger:    slog.Default(),
		imageSize: defaultImageSize,
		seed:      func() int { return rand.IntN(10001) },
	}
}

// WithAPIKey sets the API key for the provider
func (p *Provider) WithAPIKey(apiKey string) ai.Provider {
	p.apiKey = apiKey
	return p
}

// WithBaseURL sets the base URL for the API
func (p *Provider) WithBaseURL(baseURL string) ai.Provider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// WithHttpClient sets a custom HTTP client
func (p *Provider) WithHttpClient(httpClient *http.Client) ai.Provider {
	p.client = httpClient
	return p
}

// WithLogger sets the logger.
func (p *Provider) WithLogger(logger *slog.Logger) *Provider {
	p.logger = logger
	return p
}

// WithImageSize sets the aspect ratio requested from image models, e.g. "16:9".
func (p *Provider) WithImageSize(size string) *Provider {
	if size != "" {
		p.imageSize = size
	}
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) headers(accept string) []utils.HeaderOption {
	return []utils.HeaderOption{
		utils.Header("User-Agent", userAgent),
		utils.Header("Accept", accept),
		utils.Header("Accept-Language", "en-US,en;q=0.5"),
	}
}

type completionRequest struct {
	Messages    []ai.Message `json:"messages"`
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
	Stream      bool         `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func newCompletionRequest(model string, request ai.ChatRequest, stream bool) completionRequest {
	body := completionRequest{
		Messages:    splitMessages(request.Messages),
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 1,
		TopP:        1,
		Stream:      stream,
	}
	if cfg := request.GenerationConfig; cfg != nil {
		if cfg.MaxTokens > 0 {
			body.MaxTokens = cfg.MaxTokens
		}
		if cfg.Temperature != nil {
			body.Temperature = *cfg.Temperature
		}
		if cfg.TopP != nil {
			body.TopP = *cfg.TopP
		}
	}
	return body
}

func (p *Provider) start(ctx context.Context, request ai.ChatRequest, model string) error {
	if len(request.Messages) == 0 {
		return errors.New("chat request has no messages")
	}
	if span := observability.SpanFromContext(ctx); span != nil {
		span.SetAttributes(
			observability.String(observability.AttrProvider, providerName),
			observability.String(observability.AttrEndpoint, p.baseURL),
			observability.String(observability.AttrModel, model),
			observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
		)
	}
	return nil
}

// SendMessage generates an image for image models and a filtered completion
// otherwise.
func (p *Provider) SendMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	model := resolveModel(request.Model)
	if err := p.start(ctx, request, model); err != nil {
		return nil, err
	}
	if p.isImageModel(ctx, model) {
		return p.generateImage(ctx, model, request)
	}
	if request.Stream {
		stream, err := p.streamText(ctx, model, request)
		if err != nil {
			return nil, err
		}
		response, err := stream.Collect()
		if response != nil {
			response.Model = model
		}
		return response, err
	}

	_, out, err := utils.DoPostSync[completionResponse](ctx, p.client, p.baseURL+completionsEndpoint, p.apiKey,
		newCompletionRequest(model, request, false), p.headers("application/json, text/event-stream")...)
	if err != nil {
		return nil, upstream("chat completion", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat completion has no choices", ai.ErrStreamProtocol)
	}

	choice := out.Choices[0]
	finish := choice.FinishReason
	if finish == "" {
		finish = ai.FinishStop
	}
	return &ai.ChatResponse{
		Model:        model,
		Content:      Filter(choice.Message.Content),
		FinishReason: finish,
	}, nil
}

// StreamMessage streams filtered fragments. Image models yield a single
// image event.
func (p *Provider) StreamMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	model := resolveModel(request.Model)
	if err := p.start(ctx, request, model); err != nil {
		return nil, err
	}
	if p.isImageModel(ctx, model) {
		response, err := p.generateImage(ctx, model, request)
		if err != nil {
			return nil, err
		}
		return ai.NewSingleEventStream(response), nil
	}
	return p.streamText(ctx, model, request)
}

func (p *Provider) streamText(ctx context.Context, model string, request ai.ChatRequest) (*ai.ChatStream, error) {
	res, err := utils.DoPostStream(ctx, p.client, p.baseURL+completionsEndpoint, p.apiKey,
		newCompletionRequest(model, request, true), p.headers("application/json, text/event-stream")...)
	if err != nil {
		return nil, upstream("chat completion", err)
	}
	scanner := utils.NewSSEScanner(res.Body)

	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		defer utils.CloseWithLog(res.Body)

		finish := ai.FinishStop
		for {
			payload, err := scanner.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(ai.StreamEvent{}, err)
				return
			}

			var chunk completionChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				p.logger.DebugContext(ctx, "skipping malformed chunk", "provider", providerName, "error", err.Error())
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finish = *choice.FinishReason
			}
			if choice.Delta.Content == nil {
				continue
			}
			if text := Filter(*choice.Delta.Content); text != "" {
				if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: text}, nil) {
					return
				}
			}
		}
		yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: finish}, nil)
	}), nil
}

// generateImage asks imagine2 for an image of the last message. The image
// URL is the final URL of the request, after redirects.
func (p *Provider) generateImage(ctx context.Context, model string, request ai.ChatRequest) (*ai.ChatResponse, error) {
	prompt := request.Messages[len(request.Messages)-1].Content
	query := url.Values{
		"model":  {model},
		"prompt": {prompt},
		"size":   {p.imageSize},
		"seed":   {strconv.Itoa(p.seed())},
	}

	headers := append(p.headers("image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5"),
		utils.Header("Content-Type", "application/json"))
	if p.apiKey != "" {
		headers = append(headers, utils.Header("Authorization", "Bearer "+p.apiKey))
	}

	res, _, err := utils.DoRaw(ctx, p.client, http.MethodGet, p.baseURL+imagineEndpoint+"?"+query.Encode(), nil, headers...)
	if err != nil {
		return nil, upstream("image generation", err)
	}
	return &ai.ChatResponse{
		Model:        model,
		Images:       []ai.ImageResult{{URL: res.Request.URL.String(), Prompt: prompt}},
		FinishReason: ai.FinishStop,
	}, nil
}

type checkResponse struct {
	Info string `json:"info"`
}

// CheckAPIKey reports whether the key is a sponsor or premium key. Without a
// key every model is allowed, so it reports true.
func (p *Provider) CheckAPIKey(ctx context.Context) (bool, error) {
	if p.apiKey == "" || p.apiKey == "null" {
		return true, nil
	}
	_, out, err := utils.DoGetSync[checkResponse](ctx, p.client, p.baseURL+"/check?"+url.Values{"key": {p.apiKey}}.Encode(), "",
		p.headers("*/*")...)
	if err != nil {
		if utils.StatusCode(err) != 0 {
			return false, nil
		}
		return false, fmt.Errorf("check api key: %w", err)
	}
	return out.Info == "Sponsor key" || out.Info == "Premium key", nil
}

func upstream(step string, err error) error {
	if utils.StatusCode(err) == 0 {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%s: %w: %w", step, ai.ErrUpstreamRejected, err)
}
