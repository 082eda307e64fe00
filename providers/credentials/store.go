package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/leofalp/webchat/internal/utils"
)

// DefaultTTL is the lifetime given to a bearer token. The backend does not
// advertise one; a 401 invalidates earlier.
const DefaultTTL = 4 * time.Hour

// headers that must never be replayed from a captured session.
var skippedHeaders = map[string]bool{
	"cookie":          true,
	"content-length":  true,
	"content-type":    true,
	"host":            true,
	"accept-encoding": true,
	"connection":      true,
}

// Persister saves and restores session snapshots by provider name.
type Persister interface {
	Save(name string, snapshot Snapshot) error
	Load(name string) (*Snapshot, error)
}

// Store is the mutex-guarded session of one provider client.
type Store struct {
	mu        sync.RWMutex
	creds     Credentials
	challenge Challenge

	clock     quartz.Clock
	ttl       time.Duration
	refresh   singleflight.Group
	name      string
	persister Persister
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock quartz.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPersister saves the session under name after every change.
func WithPersister(name string, persister Persister) Option {
	return func(s *Store) {
		s.name = name
		s.persister = persister
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		creds:  Credentials{Cookies: map[string]string{}, Headers: map[string]string{}},
		clock:  quartz.NewReal(),
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted snapshot, if any. A restored session that has
// already expired is loaded without its bearer token.
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}
	snapshot, err := s.persister.Load(s.name)
	if err != nil {
		return fmt.Errorf("restore session %q: %w", s.name, err)
	}
	if snapshot == nil {
		return nil
	}

	s.mu.Lock()
	s.creds = snapshot.Credentials.Clone()
	if s.creds.Cookies == nil {
		s.creds.Cookies = map[string]string{}
	}
	if s.creds.Headers == nil {
		s.creds.Headers = map[string]string{}
	}
	s.challenge = snapshot.Challenge.Clone()
	if s.expiredLocked() {
		s.invalidateLocked()
	}
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current credentials.
func (s *Store) Get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Clone()
}

// Challenge returns a copy of the current challenge context.
func (s *Store) Challenge() Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challenge.Clone()
}

// IsEmpty reports whether neither a bearer token nor headers are held.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.BearerToken == "" && len(s.creds.Headers) == 0
}

// HasToken reports whether a bearer token is held.
func (s *Store) HasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.BearerToken != ""
}

// Expired reports whether the token's expiry has passed.
func (s *Store) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked()
}

func (s *Store) expiredLocked() bool {
	return !s.creds.Expiry.IsZero() && !s.clock.Now().Before(s.creds.Expiry)
}

// MergeCookies unions cookies into the store; the newest value for a name wins.
func (s *Store) MergeCookies(cookies map[string]string) {
	if len(cookies) == 0 {
		return
	}
	s.mu.Lock()
	maps.Copy(s.creds.Cookies, cookies)
	s.mu.Unlock()
	s.persist()
}

// CaptureResponse merges the Set-Cookie headers of res. It accepts nil.
func (s *Store) CaptureResponse(res *http.Response) {
	if res == nil {
		return
	}
	cookies := make(map[string]string)
	for _, cookie := range res.Cookies() {
		if cookie.Value == "" || cookie.MaxAge < 0 {
			continue
		}
		cookies[cookie.Name] = cookie.Value
	}
	s.MergeCookies(cookies)
}

// SetHeaders merges captured request headers. Transport-level headers are dropped.
func (s *Store) SetHeaders(headers map[string]string) {
	s.mu.Lock()
	for key, value := range headers {
		key = strings.ToLower(key)
		if skippedHeaders[key] || strings.HasPrefix(key, ":") {
			continue
		}
		s.creds.Headers[key] = value
	}
	s.mu.Unlock()
	s.persist()
}

// SetToken stores token and sets expiry to now + TTL.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	s.setTokenLocked(token, time.Time{})
	s.mu.Unlock()
	s.persist()
}

func (s *Store) setTokenLocked(token string, notAfter time.Time) {
	s.creds.BearerToken = token
	s.creds.Headers["authorization"] = "Bearer " + token
	s.creds.Expiry = s.clock.Now().Add(s.ttl)
	if !notAfter.IsZero() && notAfter.Before(s.creds.Expiry) {
		s.creds.Expiry = notAfter
	}
}

// SetChallenge replaces the challenge context.
func (s *Store) SetChallenge(challenge Challenge) {
	s.mu.Lock()
	s.challenge = challenge.Clone()
	s.mu.Unlock()
	s.persist()
}

// Invalidate clears the bearer token, the authorization header and the
// expiry. Cookies and other headers survive.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()
	s.persist()
}

func (s *Store) invalidateLocked() {
	s.creds.BearerToken = ""
	s.creds.Expiry = time.Time{}
	delete(s.creds.Headers, "authorization")
}

// Install applies a freshly acquired session: headers and cookies are
// merged, the token (if any) is set and the challenge context replaced. An
// acquired Expiry earlier than now + TTL is kept.
func (s *Store) Install(creds Credentials, challenge Challenge) {
	s.mu.Lock()
	for key, value := range creds.Headers {
		key = strings.ToLower(key)
		if !skippedHeaders[key] {
			s.creds.Headers[key] = value
		}
	}
	maps.Copy(s.creds.Cookies, creds.Cookies)
	if creds.BearerToken != "" {
		s.setTokenLocked(creds.BearerToken, creds.Expiry)
	}
	s.challenge = challenge.Clone()
	s.mu.Unlock()
	s.persist()
}

// Refresh runs acquire at most once for concurrent callers and installs its
// result. Callers that join an in-flight refresh share its error.
func (s *Store) Refresh(ctx context.Context, acquire func(context.Context) (Credentials, Challenge, error)) error {
	ch := s.refresh.DoChan("refresh", func() (any, error) {
		creds, challenge, err := acquire(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.Install(creds, challenge)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-ch:
		return result.Err
	}
}

// HeaderOptions returns the stored headers plus a deterministic cookie
// header, ready to pass to the utils request helpers.
func (s *Store) HeaderOptions() []utils.HeaderOption {
	s.mu.RLock()
	defer s.mu.RUnlock()

	options := make([]utils.HeaderOption, 0, len(s.creds.Headers)+1)
	for _, key := range slices.Sorted(maps.Keys(s.creds.Headers)) {
		options = append(options, utils.Header(key, s.creds.Headers[key]))
	}
	if cookie := cookieHeader(s.creds.Cookies); cookie != "" {
		options = append(options, utils.Header("Cookie", cookie))
	}
	return options
}

// Apply sets the stored headers and cookies on req.
func (s *Store) Apply(req *http.Request) {
	for _, option := range s.HeaderOptions() {
		req.Header.Set(option.Key, option.Value)
	}
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, name := range slices.Sorted(maps.Keys(cookies)) {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}

func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.mu.RLock()
	snapshot := Snapshot{Credentials: s.creds.Clone(), Challenge: s.challenge.Clone()}
	s.mu.RUnlock()

	if err := s.persister.Save(s.name, snapshot); err != nil {
		s.logger.Warn("failed to persist session", "provider", s.name, "error", err.Error())
	}
}
