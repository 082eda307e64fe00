package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/leofalp/webchat/core/client"
	"github.com/leofalp/webchat/core/client/middleware"
	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/ai/airforce"
	"github.com/leofalp/webchat/providers/ai/chatgpt"
	"github.com/leofalp/webchat/providers/auth"
	"github.com/leofalp/webchat/providers/credentials"
	slogobs "github.com/leofalp/webchat/providers/observability/slog"
)

const defaultChatGPTURL = "https://chatgpt.com"

// settings is the resolved flag and environment configuration.
type settings struct {
	Provider    string
	Model       string
	BaseURL     string
	AccessToken string
	HARDir      string
	Browser     bool
	Headless    bool
	LoginURL    string
	SessionFile string
	Anonymous   bool
	Timeout     time.Duration
	AirforceKey string
}

func loadSettings() settings {
	return settings{
		Provider:    viper.GetString("provider"),
		Model:       viper.GetString("model"),
		BaseURL:     viper.GetString("base-url"),
		AccessToken: viper.GetString("access-token"),
		HARDir:      viper.GetString("har-dir"),
		Browser:     viper.GetBool("browser"),
		Headless:    viper.GetBool("headless"),
		LoginURL:    viper.GetString("login-url"),
		SessionFile: viper.GetString("session-file"),
		Anonymous:   viper.GetBool("anonymous"),
		Timeout:     viper.GetDuration("timeout"),
		AirforceKey: viper.GetString("airforce-api-key"),
	}
}

func (s settings) chatGPTBaseURL() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return defaultChatGPTURL
}

// acquirer chains the recorded-session import with, when enabled, a Chrome
// session.
func (s settings) acquirer(logger *slog.Logger) *auth.Chain {
	baseURL := s.chatGPTBaseURL()
	acquirers := []auth.Acquirer{auth.NewHARImporter(s.HARDir, baseURL).WithLogger(logger)}
	if s.Browser {
		browser := auth.NewChromeBrowser().WithHeadless(s.Headless).WithLogger(logger)
		acquirer := auth.NewBrowserAcquirer(browser, baseURL).WithLogger(logger)
		if s.LoginURL != "" {
			acquirer = acquirer.WithLoginURL(s.LoginURL)
		}
		acquirers = append(acquirers, acquirer)
	}
	return auth.NewChain(acquirers...).WithLogger(logger)
}

// store returns a session store persisted to the session file and restored
// from it.
func (s settings) store(logger *slog.Logger) *credentials.Store {
	path := s.SessionFile
	if path == "" {
		path = credentials.DefaultBoltPath()
	}
	store := credentials.NewStore(
		credentials.WithPersister("chatgpt", credentials.NewBoltPersister(path)),
		credentials.WithLogger(logger),
	)
	if err := store.Restore(); err != nil {
		logger.Warn("could not restore session", "path", path, "error", err.Error())
	}
	if s.AccessToken != "" {
		store.SetToken(s.AccessToken)
	}
	return store
}

func (s settings) chatGPT(logger *slog.Logger) *chatgpt.Provider {
	cfg := chatgpt.DefaultConfig()
	cfg.NeedsAuth = !s.Anonymous

	provider := chatgpt.New().
		WithConfig(cfg).
		WithStore(s.store(logger)).
		WithAcquirer(s.acquirer(logger)).
		WithLogger(logger)
	if s.BaseURL != "" {
		provider.WithBaseURL(s.BaseURL)
	}
	return provider
}

func (s settings) airforce(logger *slog.Logger) *airforce.Provider {
	provider := airforce.New().WithLogger(logger)
	if s.AirforceKey != "" {
		provider.WithAPIKey(s.AirforceKey)
	}
	return provider
}

// modelLister is implemented by providers that can list their models.
type modelLister interface {
	Models(ctx context.Context) []string
}

func (s settings) provider(logger *slog.Logger) (ai.Provider, error) {
	switch s.Provider {
	case "", "chatgpt":
		return s.chatGPT(logger), nil
	case "airforce":
		return s.airforce(logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
}

// client wraps the provider with the timeout and logging middlewares and a
// slog-backed observer.
func (s settings) client(logger *slog.Logger, systemPrompt string) (*client.Client, error) {
	provider, err := s.provider(logger)
	if err != nil {
		return nil, err
	}

	var middlewares []client.MiddlewareConfig
	if s.Timeout > 0 {
		middlewares = append(middlewares, middleware.NewTimeoutMiddleware(s.Timeout))
	}
	middlewares = append(middlewares, middleware.NewLoggingMiddleware(logger, middleware.LogLevelStandard))

	return client.New(provider,
		client.WithModel(s.Model),
		client.WithSystemPrompt(systemPrompt),
		client.WithObserver(slogobs.New(logger)),
		client.WithMiddleware(middlewares...),
	)
}
