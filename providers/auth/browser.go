package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coder/quartz"
)

// ObservedRequest is an outgoing request seen by the automation engine.
type ObservedRequest struct {
	URL      string
	Headers  map[string]string
	PostData string
}

// Page is one automated browser tab. Requests is fed by the engine's
// network events from the moment the page is created.
type Page interface {
	Requests() <-chan ObservedRequest
	// Navigate loads url and returns once the chat input is visible.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and stores its result in out.
	Evaluate(ctx context.Context, expression string, out any) error
	Cookies(ctx context.Context, urls ...string) (map[string]string, error)
	Close() error
}

// Browser opens pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

const (
	defaultPollInterval   = time.Second
	defaultBrowserTimeout = 4 * time.Minute
)

// BrowserAcquirer harvests a session by loading the chat surface in a real
// browser and watching its traffic.
type BrowserAcquirer struct {
	browser      Browser
	baseURL      string
	loginURL     string
	pollInterval time.Duration
	timeout      time.Duration
	clock        quartz.Clock
	logger       *slog.Logger
}

// NewBrowserAcquirer creates an acquirer for baseURL. The login URL defaults
// to WEBCHAT_LOGIN_URL.
func NewBrowserAcquirer(browser Browser, baseURL string) *BrowserAcquirer {
	return &BrowserAcquirer{
		browser:      browser,
		baseURL:      baseURL,
		loginURL:     os.Getenv("WEBCHAT_LOGIN_URL"),
		pollInterval: defaultPollInterval,
		timeout:      defaultBrowserTimeout,
		clock:        quartz.NewReal(),
		logger:       slog.Default(),
	}
}

// WithLoginURL sets the URL surfaced to the user before waiting for a login.
func (b *BrowserAcquirer) WithLoginURL(loginURL string) *BrowserAcquirer {
	b.loginURL = loginURL
	return b
}

// WithTimeout bounds the wait for an access token and proof seed.
func (b *BrowserAcquirer) WithTimeout(timeout, pollInterval time.Duration) *BrowserAcquirer {
	if timeout > 0 {
		b.timeout = timeout
	}
	if pollInterval > 0 {
		b.pollInterval = pollInterval
	}
	return b
}

// WithClock replaces the clock driving the poll loop.
func (b *BrowserAcquirer) WithClock(clock quartz.Clock) *BrowserAcquirer {
	b.clock = clock
	return b
}

// WithLogger sets the logger.
func (b *BrowserAcquirer) WithLogger(logger *slog.Logger) *BrowserAcquirer {
	b.logger = logger
	return b
}

func (b *BrowserAcquirer) Name() string { return "browser" }

// Acquire opens a page, waits until both an access token and a proof seed
// have been observed (or the timeout elapses with at least a token), then
// collects cookies, user agent and build id.
func (b *BrowserAcquirer) Acquire(ctx context.Context) (*Result, error) {
	if b.browser == nil {
		return nil, fmt.Errorf("%w: no browser engine available", ErrNoValidSession)
	}

	page, err := b.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			b.logger.Warn("failed to close browser page", "error", err.Error())
		}
	}()

	NotifyLogin(ctx, b.loginURL)

	navigated := make(chan error, 1)
	go func() { navigated <- page.Navigate(ctx, b.baseURL) }()

	endpoints := newEndpoints(b.baseURL)
	harvest := newHarvest()
	ready := false

	ticker := b.clock.NewTicker(b.pollInterval, "browser", "poll")
	defer ticker.Stop()
	deadline := b.clock.NewTimer(b.timeout, "browser", "deadline")
	defer deadline.Stop()

wait:
	for harvest.token == "" || harvest.proofConfig == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case req := <-page.Requests():
			harvest.observe(endpoints.classify(req.URL), req.URL, req.Headers, req.PostData, "")
		case err := <-navigated:
			if err != nil {
				return nil, fmt.Errorf("load chat page: %w", err)
			}
			ready = true
		case <-ticker.C:
			if ready && harvest.token == "" {
				harvest.token = b.pageToken(ctx, page)
			}
		case <-deadline.C:
			break wait
		}
	}

	// requests already queued may still carry the arkose call
	for drained := false; !drained; {
		select {
		case req := <-page.Requests():
			harvest.observe(endpoints.classify(req.URL), req.URL, req.Headers, req.PostData, "")
		default:
			drained = true
		}
	}

	if harvest.token == "" {
		return nil, fmt.Errorf("%w: browser produced no access token within %s", ErrNoValidSession, b.timeout)
	}
	if harvest.proofConfig == nil {
		b.logger.WarnContext(ctx, "no proof token observed, continuing without a captured fingerprint")
	}

	result := harvest.result()
	var userAgent string
	if err := page.Evaluate(ctx, "window.navigator.userAgent", &userAgent); err == nil && userAgent != "" {
		result.Credentials.Headers["user-agent"] = userAgent
		result.Challenge.UserAgent = userAgent
	}
	var dataBuild string
	if err := page.Evaluate(ctx, "document.documentElement.getAttribute('data-build')", &dataBuild); err == nil {
		result.Challenge.DataBuild = dataBuild
	}
	cookies, err := page.Cookies(ctx, hostURL(b.baseURL))
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}
	result.Credentials.Cookies = cookies
	return result, nil
}

// pageToken reads the access token embedded in the page's bootstrap context.
func (b *BrowserAcquirer) pageToken(ctx context.Context, page Page) string {
	var body string
	if err := page.Evaluate(ctx, "JSON.stringify(window.__remixContext)", &body); err != nil {
		return ""
	}
	if match := accessTokenPattern.FindStringSubmatch(body); match != nil {
		return match[1]
	}
	return ""
}
