package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://chat.example.com"

func header(name, value string) map[string]string {
	return map[string]string{"name": name, "value": value}
}

func proofHeader(t *testing.T, config []any) string {
	t.Helper()
	raw, err := json.Marshal(config)
	require.NoError(t, err)
	return "gAAAAAB" + base64.StdEncoding.EncodeToString(raw)
}

func harArchive(t *testing.T, token string) map[string]any {
	t.Helper()
	return map[string]any{"log": map[string]any{"entries": []any{
		map[string]any{
			"request": map[string]any{
				"url": testBaseURL + "/",
				"headers": []any{
					header("User-Agent", "recorded-agent"),
					header("Cookie", "ignored=1"),
					header(":authority", "chat.example.com"),
					header("oai-device-id", "device-1"),
				},
				"cookies": []any{
					map[string]string{"name": "__Secure-next-auth.session-token", "value": "session"},
					map[string]string{"name": "oai-did", "value": "skipped"},
				},
			},
			"response": map[string]any{"content": map[string]any{
				"text": `<script>window.__remixContext = {"accessToken":"` + token + `"}</script>`,
			}},
		},
		map[string]any{
			"request": map[string]any{
				"url": testBaseURL + "/backend-api/conversation",
				"headers": []any{
					header("OpenAI-Sentinel-Proof-Token", proofHeader(t, []any{4010, "time", nil, 7, "recorded-agent"})),
					header("OpenAI-Sentinel-Turnstile-Token", "turnstile"),
				},
			},
		},
		map[string]any{
			"request": map[string]any{
				"url":      "https://arkose.example.com/fc/gt2/public_key/ABC",
				"headers":  []any{header("user-agent", "recorded-agent")},
				"postData": map[string]any{"text": "bda=xyz"},
			},
			"response": map[string]any{"content": map[string]any{"text": `{"token":"arkose-token"}`}},
		},
		map[string]any{"request": map[string]any{"url": "https://cdn.example.com/app.js"}},
	}}}
}

func writeHAR(t *testing.T, dir, name string, archive any, modTime time.Time) {
	t.Helper()
	raw, err := json.Marshal(archive)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestHARImporter_ExtractsSession(t *testing.T) {
	dir := t.TempDir()
	writeHAR(t, dir, "session.har", harArchive(t, "opaque-token"), time.Now())

	result, err := NewHARImporter(dir, testBaseURL).Acquire(context.Background())
	require.NoError(t, err)

	creds := result.Credentials
	assert.Equal(t, "opaque-token", creds.BearerToken)
	assert.True(t, creds.Expiry.IsZero(), "opaque tokens carry no expiry")
	assert.Equal(t, map[string]string{"__Secure-next-auth.session-token": "session"}, creds.Cookies)
	assert.Equal(t, "recorded-agent", creds.Headers["user-agent"])
	assert.Equal(t, "device-1", creds.Headers["oai-device-id"])
	assert.NotContains(t, creds.Headers, "cookie")
	assert.NotContains(t, creds.Headers, ":authority")

	ch := result.Challenge
	assert.Equal(t, "turnstile", ch.TurnstileToken)
	assert.Equal(t, "arkose-token", ch.ArkoseToken)
	require.NotNil(t, ch.ArkoseRequest)
	assert.Equal(t, "bda=xyz", ch.ArkoseRequest.Body)
	require.Len(t, ch.ProofConfig, 5)
	assert.Equal(t, float64(7), ch.ProofConfig[3])
	assert.Equal(t, "recorded-agent", result.UserAgent())
}

func TestHARImporter_PrefersNewestLiveArchive(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	stale := signedToken(t, clock.Now().Add(-time.Minute))
	live := signedToken(t, clock.Now().Add(time.Hour))
	older := signedToken(t, clock.Now().Add(2*time.Hour))

	now := time.Now()
	writeHAR(t, dir, "a-older.har", harArchive(t, older), now.Add(-2*time.Hour))
	writeHAR(t, dir, "b-live.har", harArchive(t, live), now.Add(-time.Hour))
	writeHAR(t, dir, "c-stale.har", harArchive(t, stale), now)

	result, err := NewHARImporter(dir, testBaseURL).WithClock(clock).Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, live, result.Credentials.BearerToken)
	assert.Equal(t, clock.Now().Add(time.Hour).Unix(), result.Credentials.Expiry.Unix())
}

func TestHARImporter_RepairsTruncatedArchive(t *testing.T) {
	raw, err := json.Marshal(harArchive(t, "repaired-token"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `\u003c/script\u003e`, "the page body carries unicode escapes")

	for cut := 1; cut <= 6; cut++ {
		t.Run(fmt.Sprintf("cut %d", cut), func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "cut.har"), raw[:len(raw)-cut], 0o600))

			result, err := NewHARImporter(dir, testBaseURL).Acquire(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "repaired-token", result.Credentials.BearerToken)
			assert.Equal(t, "turnstile", result.Challenge.TurnstileToken)
		})
	}
}

func TestHARImporter_NoValidSession(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{name: "missing dir", setup: func(t *testing.T, dir string) { require.NoError(t, os.Remove(dir)) }},
		{name: "empty dir", setup: func(*testing.T, string) {}},
		{name: "no token", setup: func(t *testing.T, dir string) {
			writeHAR(t, dir, "x.har", map[string]any{"log": map[string]any{"entries": []any{}}}, time.Now())
		}},
		{name: "not an archive", setup: func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "x.har"), []byte(`[1,2,3]`), 0o600))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			_, err := NewHARImporter(dir, testBaseURL).Acquire(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNoValidSession), "got %v", err)
		})
	}
}

func TestHARImporter_EnvDirectory(t *testing.T) {
	dir := t.TempDir()
	writeHAR(t, dir, "session.har", harArchive(t, "env-token"), time.Now())
	t.Setenv("WEBCHAT_HAR_DIR", dir)

	result, err := NewHARImporter("", testBaseURL).Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-token", result.Credentials.BearerToken)
}
