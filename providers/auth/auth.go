package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"regexp"
	"strings"

	"github.com/leofalp/webchat/providers/challenge"
	"github.com/leofalp/webchat/providers/credentials"
)

// ErrNoValidSession means a strategy found nothing usable; the next
// strategy in a Chain is tried.
var ErrNoValidSession = errors.New("no valid session")

// Result is what a strategy harvested.
type Result struct {
	Credentials credentials.Credentials
	Challenge   credentials.Challenge
}

// UserAgent returns the user agent the session was recorded with.
func (r *Result) UserAgent() string {
	if ua := r.Credentials.Headers["user-agent"]; ua != "" {
		return ua
	}
	return r.Challenge.UserAgent
}

// Acquirer produces a credential set and challenge context.
type Acquirer interface {
	Name() string
	Acquire(ctx context.Context) (*Result, error)
}

// Chain tries acquirers in order.
type Chain struct {
	acquirers []Acquirer
	logger    *slog.Logger
}

// NewChain builds a chain. Nil acquirers are skipped so optional strategies
// can be passed unconditionally.
func NewChain(acquirers ...Acquirer) *Chain {
	c := &Chain{logger: slog.Default()}
	for _, acquirer := range acquirers {
		if acquirer != nil {
			c.acquirers = append(c.acquirers, acquirer)
		}
	}
	return c
}

// WithLogger sets the logger.
func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = logger
	return c
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.acquirers))
	for _, acquirer := range c.acquirers {
		names = append(names, acquirer.Name())
	}
	return strings.Join(names, ",")
}

// Acquire returns the first successful result. Any error other than
// ErrNoValidSession stops the chain; otherwise the last error is returned.
func (c *Chain) Acquire(ctx context.Context) (*Result, error) {
	lastErr := fmt.Errorf("%w: no acquisition strategy configured", ErrNoValidSession)
	for _, acquirer := range c.acquirers {
		result, err := acquirer.Acquire(ctx)
		if err == nil {
			c.logger.DebugContext(ctx, "session acquired", "strategy", acquirer.Name())
			return result, nil
		}
		if !errors.Is(err, ErrNoValidSession) {
			return nil, fmt.Errorf("%s: %w", acquirer.Name(), err)
		}
		c.logger.DebugContext(ctx, "strategy found no session", "strategy", acquirer.Name(), "error", err.Error())
		lastErr = err
	}
	return nil, lastErr
}

type loginNotifierKey struct{}

// WithLoginNotifier returns a context whose interactive strategies call
// notify with the login URL before waiting for the user.
func WithLoginNotifier(ctx context.Context, notify func(loginURL string)) context.Context {
	return context.WithValue(ctx, loginNotifierKey{}, notify)
}

// NotifyLogin passes loginURL to the notifier installed with
// WithLoginNotifier. Empty URLs and contexts without a notifier are ignored.
func NotifyLogin(ctx context.Context, loginURL string) {
	if loginURL == "" {
		return
	}
	if notify, ok := ctx.Value(loginNotifierKey{}).(func(string)); ok && notify != nil {
		notify(loginURL)
	}
}

// endpoint kinds observed in recorded or live traffic.
type endpointKind int

const (
	endpointOther endpointKind = iota
	endpointPage
	endpointConversation
	endpointArkose
)

type endpoints struct {
	base string
}

func newEndpoints(baseURL string) endpoints {
	return endpoints{base: strings.TrimRight(baseURL, "/")}
}

func (e endpoints) classify(rawURL string) endpointKind {
	switch {
	case rawURL == e.base || rawURL == e.base+"/" || strings.HasPrefix(rawURL, e.base+"/c/"):
		return endpointPage
	case rawURL == e.base+"/backend-api/conversation" || rawURL == e.base+"/backend-anon/conversation":
		return endpointConversation
	case strings.Contains(rawURL, "/fc/gt2/public_key/"):
		return endpointArkose
	default:
		return endpointOther
	}
}

var accessTokenPattern = regexp.MustCompile(`"accessToken":"(.*?)"`)

// harvest accumulates session material from observed requests.
type harvest struct {
	headers     map[string]string
	cookies     map[string]string
	token       string
	proofConfig []any
	turnstile   string
	arkoseToken string
	arkose      *credentials.ArkoseRequest
}

func newHarvest() *harvest {
	return &harvest{headers: map[string]string{}, cookies: map[string]string{}}
}

// observe records one request. body is the page response text for page
// loads, the response of the arkose call, or empty.
func (h *harvest) observe(kind endpointKind, rawURL string, headers map[string]string, postData, body string) {
	headers = normalizeHeaders(headers)
	switch kind {
	case endpointPage:
		h.headers = headers
		if match := accessTokenPattern.FindStringSubmatch(body); match != nil {
			h.token = match[1]
		}
	case endpointConversation:
		if proof := headers["openai-sentinel-proof-token"]; proof != "" {
			if config, err := challenge.DecodeProofToken(proof); err == nil {
				h.proofConfig = config
			}
		}
		if turnstile := headers["openai-sentinel-turnstile-token"]; turnstile != "" {
			h.turnstile = turnstile
		}
		if arkose := headers["openai-sentinel-arkose-token"]; arkose != "" {
			h.arkoseToken = arkose
		}
		if authorization := headers["authorization"]; authorization != "" {
			fields := strings.Fields(authorization)
			h.token = fields[len(fields)-1]
		}
	case endpointArkose:
		h.arkose = &credentials.ArkoseRequest{
			URL:       rawURL,
			Headers:   headers,
			Body:      postData,
			UserAgent: headers["user-agent"],
		}
	}
}

func (h *harvest) result() *Result {
	creds := credentials.Credentials{
		BearerToken: h.token,
		Cookies:     maps.Clone(h.cookies),
		Headers:     maps.Clone(h.headers),
	}
	return &Result{
		Credentials: creds,
		Challenge: credentials.Challenge{
			ProofConfig:    h.proofConfig,
			ArkoseToken:    h.arkoseToken,
			TurnstileToken: h.turnstile,
			ArkoseRequest:  h.arkose,
			UserAgent:      h.headers["user-agent"],
		},
	}
}

func normalizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		key = strings.ToLower(key)
		if key == "content-length" || key == "cookie" || strings.HasPrefix(key, ":") {
			continue
		}
		out[key] = value
	}
	return out
}

func hostURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Scheme + "://" + u.Host
}
