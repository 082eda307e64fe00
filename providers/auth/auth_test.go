package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/webchat/providers/credentials"
)

type stubAcquirer struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (s *stubAcquirer) Name() string { return s.name }

func (s *stubAcquirer) Acquire(context.Context) (*Result, error) {
	s.calls++
	return s.result, s.err
}

func TestChain(t *testing.T) {
	success := &Result{Credentials: credentials.Credentials{BearerToken: "tok"}}
	noSession := fmt.Errorf("%w: nothing here", ErrNoValidSession)
	fatal := errors.New("chrome crashed")

	tests := []struct {
		name       string
		acquirers  []*stubAcquirer
		wantToken  string
		wantErr    error
		wantCalled []int
	}{
		{
			name:       "first wins",
			acquirers:  []*stubAcquirer{{name: "har", result: success}, {name: "browser", result: success}},
			wantToken:  "tok",
			wantCalled: []int{1, 0},
		},
		{
			name:       "falls through on no session",
			acquirers:  []*stubAcquirer{{name: "har", err: noSession}, {name: "browser", result: success}},
			wantToken:  "tok",
			wantCalled: []int{1, 1},
		},
		{
			name:       "stops on other errors",
			acquirers:  []*stubAcquirer{{name: "har", err: fatal}, {name: "browser", result: success}},
			wantErr:    fatal,
			wantCalled: []int{1, 0},
		},
		{
			name:       "propagates last no session",
			acquirers:  []*stubAcquirer{{name: "har", err: noSession}},
			wantErr:    ErrNoValidSession,
			wantCalled: []int{1},
		},
		{
			name:    "empty chain",
			wantErr: ErrNoValidSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acquirers := make([]Acquirer, len(tt.acquirers))
			for i, a := range tt.acquirers {
				acquirers[i] = a
			}
			result, err := NewChain(acquirers...).Acquire(context.Background())

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantToken, result.Credentials.BearerToken)
			}
			for i, want := range tt.wantCalled {
				assert.Equal(t, want, tt.acquirers[i].calls, "acquirer %d", i)
			}
		})
	}
}

func TestChain_SkipsNilAcquirers(t *testing.T) {
	chain := NewChain(nil, &stubAcquirer{name: "har"}, nil)
	assert.Equal(t, "har", chain.Name())
}

func TestEndpointsClassify(t *testing.T) {
	e := newEndpoints(testBaseURL + "/")
	tests := []struct {
		url  string
		want endpointKind
	}{
		{url: testBaseURL, want: endpointPage},
		{url: testBaseURL + "/", want: endpointPage},
		{url: testBaseURL + "/c/abc", want: endpointPage},
		{url: testBaseURL + "/backend-api/conversation", want: endpointConversation},
		{url: testBaseURL + "/backend-anon/conversation", want: endpointConversation},
		{url: "https://tcr9i.example.com/fc/gt2/public_key/KEY", want: endpointArkose},
		{url: testBaseURL + "/backend-api/models", want: endpointOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.classify(tt.url), tt.url)
	}
}
