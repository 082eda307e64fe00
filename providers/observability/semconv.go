package observability

// Semantic conventions for observability attributes.
// These constants define standard attribute names to ensure consistency
// across different components of the system.

// --- Provider Attributes ---

const (
	// AttrProvider is the name of the chat backend (e.g., "chatgpt", "airforce")
	AttrProvider = "webchat.provider"

	// AttrModel is the resolved model identifier
	AttrModel = "webchat.model"

	// AttrEndpoint is the backend base URL
	AttrEndpoint = "webchat.endpoint"

	// AttrFinishReason is the terminal finish reason of a turn
	AttrFinishReason = "webchat.finish_reason"

	// AttrConversationID is the backend conversation identifier
	AttrConversationID = "webchat.conversation_id"

	// AttrAction is the conversation action ("next", "continue", "variant")
	AttrAction = "webchat.action"

	// AttrAuthenticated reports whether the turn runs with a bearer token
	AttrAuthenticated = "webchat.authenticated"
)

// --- Turn Attributes ---

const (
	// AttrTurnState is the orchestrator state being entered
	AttrTurnState = "turn.state"

	// AttrTurnRetriesLeft is the remaining 403 retry budget
	AttrTurnRetriesLeft = "turn.retries_left"

	// AttrRequestMessagesCount is the number of messages in the request
	AttrRequestMessagesCount = "request.messages_count"

	// AttrRequestImagesCount is the number of images attached to the request
	AttrRequestImagesCount = "request.images_count"
)

// --- Challenge Attributes ---

const (
	// AttrChallengeArkoseRequired reports the backend's arkose requirement
	AttrChallengeArkoseRequired = "challenge.arkose.required"

	// AttrChallengeTurnstileRequired reports the backend's turnstile requirement
	AttrChallengeTurnstileRequired = "challenge.turnstile.required"

	// AttrChallengeProofRequired reports the backend's proof-of-work requirement
	AttrChallengeProofRequired = "challenge.proofofwork.required"

	// AttrChallengeProofSolved reports whether a proof-of-work nonce was found
	AttrChallengeProofSolved = "challenge.proofofwork.solved"
)

// --- Auth Attributes ---

const (
	// AttrAuthStrategy is the acquisition strategy that produced credentials
	AttrAuthStrategy = "auth.strategy"
)

// --- HTTP Attributes ---

const (
	// AttrHTTPMethod is the HTTP method (GET, POST, etc.)
	AttrHTTPMethod = "http.method"

	// AttrHTTPStatusCode is the HTTP response status code
	AttrHTTPStatusCode = "http.status_code"

	// AttrHTTPURL is the full request URL
	AttrHTTPURL = "http.url"

	// AttrHTTPRequestBodySize is the request body size in bytes
	AttrHTTPRequestBodySize = "http.request.body.size"

	// AttrHTTPResponseBodySize is the response body size in bytes
	AttrHTTPResponseBodySize = "http.response.body.size"
)

// --- General Attributes ---

const (
	// AttrError is the error message
	AttrError = "error"

	// AttrDuration is the operation duration
	AttrDuration = "duration"

	// AttrStatus is the operation status
	AttrStatus = "status"

	// AttrStatusDescription is the status description
	AttrStatusDescription = "status_description"
)

// --- Span Names ---

const (
	// SpanTurn is the span covering one conversation turn
	SpanTurn = "webchat.turn"

	// SpanAuthAcquire is the span covering a credential acquisition
	SpanAuthAcquire = "webchat.auth.acquire"
)

// --- Event Names ---

const (
	// EventTurnState marks an orchestrator state transition
	EventTurnState = "turn.state"

	// EventTurnRetry marks a 403 retry of the send step
	EventTurnRetry = "turn.retry"

	// EventTurnContinue marks an automatic continuation after max_tokens
	EventTurnContinue = "turn.continue"

	// EventCredentialsInvalidated marks a forced credential invalidation
	EventCredentialsInvalidated = "credentials.invalidated"
)

// --- Metric Names ---

const (
	// MetricTurnCount counts started turns
	MetricTurnCount = "webchat.turn.count"

	// MetricTurnDuration records turn wall time in milliseconds
	MetricTurnDuration = "webchat.turn.duration"

	// MetricTurnRetries counts 403 retries
	MetricTurnRetries = "webchat.turn.retries"

	// MetricAuthAcquisitions counts credential acquisitions
	MetricAuthAcquisitions = "webchat.auth.acquisitions"
)
