package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationMissing means no usable credentials exist and no
	// acquisition strategy could produce them.
	ErrAuthenticationMissing = errors.New("authentication missing")

	// ErrAuthenticationExpired means the backend answered 401 mid-turn. The
	// credentials have been invalidated and are re-acquired on the next turn.
	ErrAuthenticationExpired = errors.New("authentication expired")

	// ErrChallengeUnsolved means an arkose token was required but could not
	// be obtained.
	ErrChallengeUnsolved = errors.New("challenge unsolved")

	// ErrUpstreamRejected is returned for non-2xx responses other than 401,
	// including a 403 that outlived the retry budget.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	// ErrStreamProtocol reports an explicit error payload in the stream or a
	// malformed terminal state.
	ErrStreamProtocol = errors.New("stream protocol error")

	// ErrAmbiguousTermination is yielded when the stream ends without any
	// finish metadata.
	ErrAmbiguousTermination = fmt.Errorf("%w: stream ended without a finish reason", ErrStreamProtocol)

	// ErrImageResolution wraps the failure of a single image download. It does
	// not end the turn.
	ErrImageResolution = errors.New("image resolution failed")
)
