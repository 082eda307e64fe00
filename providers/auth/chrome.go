package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeBrowser launches Chrome through chromedp.
type ChromeBrowser struct {
	headless    bool
	execPath    string
	userDataDir string
	logger      *slog.Logger
}

// NewChromeBrowser reads WEBCHAT_HEADLESS (default true).
func NewChromeBrowser() *ChromeBrowser {
	headless := true
	if value := os.Getenv("WEBCHAT_HEADLESS"); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			headless = parsed
		}
	}
	return &ChromeBrowser{headless: headless, logger: slog.Default()}
}

// WithHeadless toggles headless mode. A visible window is needed for an
// interactive login.
func (b *ChromeBrowser) WithHeadless(headless bool) *ChromeBrowser {
	b.headless = headless
	return b
}

// WithExecPath points at a specific Chrome binary.
func (b *ChromeBrowser) WithExecPath(path string) *ChromeBrowser {
	b.execPath = path
	return b
}

// WithUserDataDir reuses a browser profile so a login survives restarts.
func (b *ChromeBrowser) WithUserDataDir(dir string) *ChromeBrowser {
	b.userDataDir = dir
	return b
}

// WithLogger sets the logger.
func (b *ChromeBrowser) WithLogger(logger *slog.Logger) *ChromeBrowser {
	b.logger = logger
	return b
}

// NewPage starts a browser with network tracking enabled. The browser lives
// until the page is closed.
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", b.headless))
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}
	if b.userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.userDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	page := &chromePage{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		requests: make(chan ObservedRequest, 256),
		logger:   b.logger,
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			page.observe(e)
		}
	})
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		page.cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return page, nil
}

type chromePage struct {
	ctx      context.Context
	cancel   context.CancelFunc
	requests chan ObservedRequest
	logger   *slog.Logger
}

// observe runs on chromedp's event goroutine and must not block.
func (p *chromePage) observe(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	headers := make(map[string]string, len(e.Request.Headers))
	for key, value := range e.Request.Headers {
		headers[key] = fmt.Sprint(value)
	}
	var postData strings.Builder
	for _, entry := range e.Request.PostDataEntries {
		if decoded, err := base64.StdEncoding.DecodeString(entry.Bytes); err == nil {
			postData.Write(decoded)
		}
	}

	select {
	case p.requests <- ObservedRequest{URL: e.Request.URL, Headers: headers, PostData: postData.String()}:
	default:
		p.logger.Warn("dropping observed browser request", "url", e.Request.URL)
	}
}

func (p *chromePage) Requests() <-chan ObservedRequest { return p.requests }

// runCtx derives a chromedp context that is also cancelled with ctx.
func (p *chromePage) runCtx(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	runCtx, done := p.runCtx(ctx)
	defer done()
	return chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("#prompt-textarea", chromedp.ByQuery),
	)
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out any) error {
	runCtx, done := p.runCtx(ctx)
	defer done()
	return chromedp.Run(runCtx, chromedp.Evaluate(expression, out))
}

func (p *chromePage) Cookies(ctx context.Context, urls ...string) (map[string]string, error) {
	runCtx, done := p.runCtx(ctx)
	defer done()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs(urls).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(cookies))
	for _, cookie := range cookies {
		out[cookie.Name] = cookie.Value
	}
	return out, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
