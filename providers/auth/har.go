package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/leofalp/webchat/internal/utils"
)

// HARImporter recovers a session from HAR archives exported by a browser's
// developer tools.
type HARImporter struct {
	dir     string
	baseURL string
	clock   quartz.Clock
	logger  *slog.Logger
}

// NewHARImporter scans dir for *.har files. An empty dir reads WEBCHAT_HAR_DIR
// and falls back to the working directory.
func NewHARImporter(dir, baseURL string) *HARImporter {
	if dir == "" {
		dir = os.Getenv("WEBCHAT_HAR_DIR")
	}
	if dir == "" {
		dir = "."
	}
	return &HARImporter{
		dir:     dir,
		baseURL: baseURL,
		clock:   quartz.NewReal(),
		logger:  slog.Default(),
	}
}

// WithClock replaces the clock used to judge token expiry.
func (h *HARImporter) WithClock(clock quartz.Clock) *HARImporter {
	h.clock = clock
	return h
}

// WithLogger sets the logger.
func (h *HARImporter) WithLogger(logger *slog.Logger) *HARImporter {
	h.logger = logger
	return h
}

func (h *HARImporter) Name() string { return "har" }

// Acquire returns the session of the newest archive that yields a live
// access token.
func (h *HARImporter) Acquire(ctx context.Context) (*Result, error) {
	files, err := h.archives()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no .har files in %s", ErrNoValidSession, h.dir)
	}

	var errs []error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := h.read(file)
		if err != nil {
			h.logger.DebugContext(ctx, "skipping HAR archive", "file", file, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(file), err))
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoValidSession, errors.Join(errs...))
}

// archives lists *.har files, newest first.
func (h *HARImporter) archives() ([]string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read HAR dir: %w", err)
	}

	type archive struct {
		path    string
		modTime time.Time
	}
	var found []archive
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".har") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, archive{path: filepath.Join(h.dir, entry.Name()), modTime: info.ModTime()})
	}
	slices.SortFunc(found, func(a, b archive) int { return b.modTime.Compare(a.modTime) })

	paths := make([]string, len(found))
	for i, a := range found {
		paths[i] = a.path
	}
	return paths, nil
}

func (h *HARImporter) read(path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := utils.Lenient(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable archive: %w", err)
	}
	entries := gjson.GetBytes(data, "log.entries")
	if !entries.IsArray() {
		return nil, errors.New("archive has no log.entries")
	}

	endpoints := newEndpoints(h.baseURL)
	harvest := newHarvest()
	entries.ForEach(func(_, entry gjson.Result) bool {
		rawURL := entry.Get("request.url").String()
		kind := endpoints.classify(rawURL)
		if kind == endpointOther {
			return true
		}
		headers := make(map[string]string)
		entry.Get("request.headers").ForEach(func(_, header gjson.Result) bool {
			headers[header.Get("name").String()] = header.Get("value").String()
			return true
		})

		var body string
		switch kind {
		case endpointPage:
			body = entry.Get("response.content.text").String()
			harvest.cookies = make(map[string]string)
			entry.Get("request.cookies").ForEach(func(_, cookie gjson.Result) bool {
				if name := cookie.Get("name").String(); name != "oai-did" {
					harvest.cookies[name] = cookie.Get("value").String()
				}
				return true
			})
		case endpointArkose:
			if token := gjson.Get(entry.Get("response.content.text").String(), "token").String(); token != "" {
				harvest.arkoseToken = token
			}
		}
		harvest.observe(kind, rawURL, headers, entry.Get("request.postData.text").String(), body)
		return true
	})

	if harvest.token == "" {
		return nil, errors.New("no access token recorded")
	}
	result := harvest.result()
	if expiry, ok := tokenExpiry(harvest.token); ok {
		if !h.clock.Now().Before(expiry) {
			return nil, fmt.Errorf("access token expired at %s", expiry.Format(time.RFC3339))
		}
		result.Credentials.Expiry = expiry
	}
	return result, nil
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens report ok == false.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
