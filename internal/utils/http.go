package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/leofalp/webchat/providers/observability"
)

// maxResponseBodySize is the maximum response body size (10 MB). Enforced via
// io.LimitReader to prevent unbounded memory allocation from rogue responses.
const maxResponseBodySize int64 = 10 * 1024 * 1024

// HeaderOption is a single header applied to an outgoing request after the
// defaults, so it may override Content-Type or Authorization.
type HeaderOption struct {
	Key   string
	Value string
}

// Header is shorthand for HeaderOption{Key: key, Value: value}.
func Header(key, value string) HeaderOption {
	return HeaderOption{Key: key, Value: value}
}

// Headers converts a header map into options, skipping empty values.
func Headers(values map[string]string) []HeaderOption {
	out := make([]HeaderOption, 0, len(values))
	for key, value := range values {
		if value == "" {
			continue
		}
		out = append(out, HeaderOption{Key: key, Value: value})
	}
	return out
}

// StatusError is returned for non-2xx responses. Body holds the response
// text; HTML error pages (Cloudflare, nginx) are converted to markdown.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status %d: %s", e.StatusCode, TruncateString(e.Body, DefaultMaxStringLength))
}

// StatusCode extracts the HTTP status from err, or returns 0 when err does not
// wrap a *StatusError.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// CloseWithLog closes c and logs a failure instead of returning it.
func CloseWithLog(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err.Error())
	}
}

// DoPostSync performs a synchronous HTTP POST request with JSON body and parses the response.
// The response is returned even on a non-2xx status so callers can inspect
// headers such as Set-Cookie.
func DoPostSync[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string, body any, headers ...HeaderOption) (*http.Response, *OutputStruct, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling body: %w", err)
	}
	res, respBody, err := DoRaw(ctx, client, http.MethodPost, url, bytes.NewReader(jsonBody), withDefaults(apiKey, "application/json", headers)...)
	if err != nil {
		return res, nil, err
	}
	return decodeBody[OutputStruct](res, respBody)
}

// DoGetSync performs a synchronous HTTP GET and decodes the JSON response.
func DoGetSync[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string, headers ...HeaderOption) (*http.Response, *OutputStruct, error) {
	res, respBody, err := DoRaw(ctx, client, http.MethodGet, url, nil, withDefaults(apiKey, "", headers)...)
	if err != nil {
		return res, nil, err
	}
	return decodeBody[OutputStruct](res, respBody)
}

// DoRaw sends an arbitrary request and returns the fully read body. Non-2xx
// responses produce a *StatusError.
func DoRaw(ctx context.Context, client *http.Client, method, url string, body io.Reader, headers ...HeaderOption) (*http.Response, []byte, error) {
	span := observability.SpanFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	for _, header := range headers {
		req.Header.Set(header.Key, header.Value)
	}

	if span != nil {
		span.AddEvent("http.request.prepared",
			observability.String(observability.AttrHTTPMethod, method),
			observability.String(observability.AttrHTTPURL, url),
		)
	}

	requestStart := time.Now()
	res, err := httpClient(client).Do(req)
	requestDuration := time.Since(requestStart)
	if err != nil {
		if span != nil {
			span.AddEvent("http.request.error",
				observability.Error(err),
				observability.Duration("http.request.duration", requestDuration),
			)
		}
		return res, nil, fmt.Errorf("error sending request: %w", err)
	}
	defer CloseWithLog(res.Body)

	respBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return res, nil, fmt.Errorf("error reading response body: %w", err)
	}

	if span != nil {
		span.AddEvent("http.response.received",
			observability.Int(observability.AttrHTTPStatusCode, res.StatusCode),
			observability.Int(observability.AttrHTTPResponseBodySize, len(respBody)),
			observability.Duration("http.request.duration", requestDuration),
		)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, respBody, newStatusError(res, respBody)
	}
	return res, respBody, nil
}

func decodeBody[OutputStruct any](res *http.Response, respBody []byte) (*http.Response, *OutputStruct, error) {
	var resStruct OutputStruct
	if err := json.Unmarshal(respBody, &resStruct); err != nil {
		return res, nil, fmt.Errorf("error unmarshaling response body (status %d): %w\nResponse preview: %s", res.StatusCode, err, TruncateString(string(respBody), 500))
	}
	return res, &resStruct, nil
}

func withDefaults(apiKey, contentType string, headers []HeaderOption) []HeaderOption {
	out := make([]HeaderOption, 0, len(headers)+2)
	if contentType != "" {
		out = append(out, Header("Content-Type", contentType))
	}
	if apiKey != "" {
		out = append(out, Header("Authorization", "Bearer "+apiKey))
	}
	return append(out, headers...)
}

func httpClient(client *http.Client) *http.Client {
	if client == nil {
		return http.DefaultClient
	}
	return client
}

func newStatusError(res *http.Response, body []byte) *StatusError {
	text := strings.TrimSpace(string(body))
	if isHTML(res.Header.Get("Content-Type")) {
		if converted, err := htmltomarkdown.ConvertString(text); err == nil {
			text = strings.TrimSpace(converted)
		}
	}
	return &StatusError{StatusCode: res.StatusCode, Body: text}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
