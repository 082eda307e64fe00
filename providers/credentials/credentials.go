package credentials

import (
	"maps"
	"time"
)

// Credentials is the credential set of one backend session.
type Credentials struct {
	BearerToken string            `json:"bearer_token,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	// Headers are merged into every request. Keys are lower-case.
	Headers map[string]string `json:"headers,omitempty"`
	Expiry  time.Time         `json:"expiry,omitzero"`
}

// Clone returns a deep copy.
func (c Credentials) Clone() Credentials {
	c.Cookies = maps.Clone(c.Cookies)
	c.Headers = maps.Clone(c.Headers)
	return c
}

// ArkoseRequest is a captured challenge-provider request, kept so the
// challenge can be replayed by an external solver.
type ArkoseRequest struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
}

// Challenge is the challenge material captured with a session.
type Challenge struct {
	// ProofConfig is the decoded fingerprint array from a captured
	// openai-sentinel-proof-token header.
	ProofConfig    []any          `json:"proof_config,omitempty"`
	ArkoseToken    string         `json:"arkose_token,omitempty"`
	TurnstileToken string         `json:"turnstile_token,omitempty"`
	ArkoseRequest  *ArkoseRequest `json:"arkose_request,omitempty"`
	DataBuild      string         `json:"data_build,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
}

// Clone returns a deep copy.
func (c Challenge) Clone() Challenge {
	if c.ProofConfig != nil {
		c.ProofConfig = append([]any(nil), c.ProofConfig...)
	}
	if c.ArkoseRequest != nil {
		req := *c.ArkoseRequest
		req.Headers = maps.Clone(req.Headers)
		c.ArkoseRequest = &req
	}
	return c
}

// Snapshot is the persisted form of a Store.
type Snapshot struct {
	Credentials Credentials `json:"credentials"`
	Challenge   Challenge   `json:"challenge"`
}
