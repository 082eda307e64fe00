package chatgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/auth"
	"github.com/leofalp/webchat/providers/challenge"
	"github.com/leofalp/webchat/providers/credentials"
	"github.com/leofalp/webchat/providers/observability"
)

const (
	defaultBaseURL = "https://chatgpt.com"
	providerName   = "chatgpt"
	defaultVoice   = "maple"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// defaultHeaders are sent with every backend call, under the session's own
// headers. accept-encoding is left to the transport.
var defaultHeaders = map[string]string{
	"accept":             "*/*",
	"accept-language":    "en-US,en;q=0.8",
	"referer":            defaultBaseURL + "/",
	"sec-ch-ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"sec-fetch-dest":     "empty",
	"sec-fetch-mode":     "cors",
	"sec-fetch-site":     "same-origin",
	"sec-gpc":            "1",
	"user-agent":         defaultUserAgent,
}

// initHeaders are used for the anonymous bootstrap page load.
var initHeaders = map[string]string{
	"accept":                    "*/*",
	"accept-language":           "en-US,en;q=0.8",
	"cache-control":             "no-cache",
	"pragma":                    "no-cache",
	"priority":                  "u=0, i",
	"sec-ch-ua":                 `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	"sec-ch-ua-mobile":          "?0",
	"sec-ch-ua-platform":        `"Windows"`,
	"sec-fetch-dest":            "document",
	"sec-fetch-mode":            "navigate",
	"sec-fetch-site":            "none",
	"sec-fetch-user":            "?1",
	"upgrade-insecure-requests": "1",
	"user-agent":                defaultUserAgent,
}

// Config holds the turn policy. The zero value of a numeric field selects
// its default.
type Config struct {
	// NeedsAuth requires a bearer token; otherwise turns run anonymously.
	NeedsAuth bool
	// AutoContinue re-requests after a "max_tokens" finish. Only honoured
	// with a bearer token.
	AutoContinue bool
	// HistoryDisabled asks the backend not to keep the conversation.
	HistoryDisabled bool
	// ReturnConversation yields the conversation before any content.
	ReturnConversation bool
	// WebSearch adds the "search" system hint.
	WebSearch bool

	// MaxRetries is the 403 retry budget of the send step. Default 3;
	// negative disables retries.
	MaxRetries int
	// RetryBackoff is the wait before each 403 retry. Default 5s.
	RetryBackoff time.Duration
	// ContinueDelay is the wait before an automatic continuation. Default 5s.
	ContinueDelay time.Duration
	// ImageConcurrency bounds concurrent image downloads. Default 4.
	ImageConcurrency int
	// Timezone is reported in the request envelope. Default "Europe/Berlin".
	Timezone string
	// Voice is used in synthesize markers. Default "maple".
	Voice string
}

// DefaultConfig returns the policy of an authenticated browser session.
func DefaultConfig() Config {
	return Config{NeedsAuth: true}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.ContinueDelay <= 0 {
		c.ContinueDelay = 5 * time.Second
	}
	if c.ImageConcurrency <= 0 {
		c.ImageConcurrency = 4
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	return c
}

// Provider talks to the ChatGPT web backend.
type Provider struct {
	baseURL  string
	client   *http.Client
	cfg      Config
	store    *credentials.Store
	acquirer auth.Acquirer
	solver   *challenge.Solver
	clock    quartz.Clock
	logger   *slog.Logger

	bootstrapped atomic.Bool

	modelsMu sync.Mutex
	models   []string
}

// New creates a provider with the default configuration. WEBCHAT_BASE_URL
// overrides the backend and WEBCHAT_ACCESS_TOKEN seeds the session.
func New() *Provider {
	baseURL := os.Getenv("WEBCHAT_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		cfg:     DefaultConfig(),
		store:   credentials.NewStore(),
		solver:  challenge.NewSolver(),
		clock:   quartz.NewReal(),
		logger:  slog.Default(),
	}
	if token := os.Getenv("WEBCHAT_ACCESS_TOKEN"); token != "" {
		p.store.SetToken(token)
	}
	return p
}

// WithAPIKey installs a bearer token in the session.
func (p *Provider) WithAPIKey(apiKey string) ai.Provider {
	p.store.SetToken(apiKey)
	return p
}

// WithBaseURL sets the backend origin.
func (p *Provider) WithBaseURL(baseURL string) ai.Provider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// WithHttpClient sets a custom HTTP client
func (p *Provider) WithHttpClient(httpClient *http.Client) ai.Provider {
	p.client = httpClient
	return p
}

// WithConfig replaces the turn policy. Zero numeric fields take defaults.
func (p *Provider) WithConfig(cfg Config) *Provider {
	p.cfg = cfg.withDefaults()
	return p
}

// WithStore replaces the session. Call it before WithAPIKey.
func (p *Provider) WithStore(store *credentials.Store) *Provider {
	p.store = store
	return p
}

// WithAcquirer sets the strategy used when the session must be acquired.
// The default imports recorded sessions from WEBCHAT_HAR_DIR.
func (p *Provider) WithAcquirer(acquirer auth.Acquirer) *Provider {
	p.acquirer = acquirer
	return p
}

// WithSolver replaces the proof-of-work solver.
func (p *Provider) WithSolver(solver *challenge.Solver) *Provider {
	p.solver = solver
	return p
}

// WithClock replaces the clock used for retry and continuation waits.
func (p *Provider) WithClock(clock quartz.Clock) *Provider {
	p.clock = clock
	return p
}

// WithLogger sets the logger.
func (p *Provider) WithLogger(logger *slog.Logger) *Provider {
	p.logger = logger
	return p
}

func (p *Provider) Name() string { return providerName }

// Store exposes the session, mostly for persistence and inspection.
func (p *Provider) Store() *credentials.Store { return p.store }

// SendMessage runs a full turn and returns the accumulated response.
func (p *Provider) SendMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	stream, err := p.StreamMessage(ctx, request)
	if err != nil {
		return nil, err
	}
	response, err := stream.Collect()
	if response != nil {
		response.Model = resolveModel(request.Model)
	}
	return response, err
}

// StreamMessage validates the request and returns a lazy turn. No network
// call happens until the stream is iterated.
func (p *Provider) StreamMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	if len(request.Messages) == 0 && request.Action != ai.ActionContinue {
		return nil, errors.New("chat request has no messages")
	}

	if span := observability.SpanFromContext(ctx); span != nil {
		span.SetAttributes(
			observability.String(observability.AttrProvider, providerName),
			observability.String(observability.AttrEndpoint, p.baseURL),
			observability.String(observability.AttrModel, resolveModel(request.Model)),
			observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
			observability.Int(observability.AttrRequestImagesCount, len(request.Images)),
		)
	}

	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		newTurn(p, request).run(ctx, yield)
	}), nil
}

func (p *Provider) url(path string) string {
	return p.baseURL + path
}

// backend returns the API prefix for the current session.
func (p *Provider) backend() string {
	if p.store.HasToken() {
		return "/backend-api"
	}
	return "/backend-anon"
}

// headers layers the defaults, the session and extra, in that order.
func (p *Provider) headers(extra ...utils.HeaderOption) []utils.HeaderOption {
	out := utils.Headers(defaultHeaders)
	out = append(out, p.store.HeaderOptions()...)
	return append(out, extra...)
}

func (p *Provider) userAgent() string {
	if ua := p.store.Get().Headers["user-agent"]; ua != "" {
		return ua
	}
	if ua := p.store.Challenge().UserAgent; ua != "" {
		return ua
	}
	return defaultUserAgent
}

func (p *Provider) sessionAcquirer() auth.Acquirer {
	if p.acquirer != nil {
		return p.acquirer
	}
	return auth.NewChain(auth.NewHARImporter("", p.baseURL).WithLogger(p.logger)).WithLogger(p.logger)
}

// needsSession invalidates an expired token and reports whether a session
// must be acquired.
func (p *Provider) needsSession() bool {
	if p.store.HasToken() && p.store.Expired() {
		p.logger.Debug("access token expired, invalidating session")
		p.store.Invalidate()
	}
	return !p.store.HasToken()
}

// refresh acquires a session once for all concurrent callers.
func (p *Provider) refresh(ctx context.Context) error {
	acquirer := p.sessionAcquirer()
	observer := observability.ObserverFromContext(ctx)
	var span observability.Span
	if observer != nil {
		ctx, span = observer.StartSpan(ctx, observability.SpanAuthAcquire,
			observability.String(observability.AttrAuthStrategy, acquirer.Name()))
		defer span.End()
	}

	err := p.store.Refresh(ctx, func(ctx context.Context) (credentials.Credentials, credentials.Challenge, error) {
		result, err := acquirer.Acquire(ctx)
		if err != nil {
			return credentials.Credentials{}, credentials.Challenge{}, err
		}
		return result.Credentials, result.Challenge, nil
	})
	if observer != nil {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(observability.StatusError, "session acquisition failed")
		} else {
			span.SetStatus(observability.StatusOK, "")
		}
		observer.Counter(observability.MetricAuthAcquisitions).Add(ctx, 1,
			observability.String(observability.AttrAuthStrategy, acquirer.Name()),
			observability.String(observability.AttrStatus, status),
		)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ai.ErrAuthenticationMissing, err)
	}
	return nil
}

// ensureSession acquires a session without surfacing login URLs.
func (p *Provider) ensureSession(ctx context.Context) error {
	if !p.cfg.NeedsAuth || !p.needsSession() {
		return nil
	}
	return p.refresh(ctx)
}

// rejected maps a failed exchange to the turn error taxonomy.
func (p *Provider) rejected(step string, err error) error {
	switch utils.StatusCode(err) {
	case 0:
		return fmt.Errorf("%s: %w", step, err)
	case http.StatusUnauthorized:
		p.store.Invalidate()
		return fmt.Errorf("%s: %w: %w", step, ai.ErrAuthenticationExpired, err)
	default:
		return fmt.Errorf("%s: %w: %w", step, ai.ErrUpstreamRejected, err)
	}
}
