package chatgpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/auth"
	"github.com/leofalp/webchat/providers/challenge"
	"github.com/leofalp/webchat/providers/observability"
)

type turnState int

const (
	stateInit turnState = iota
	stateAuthCheck
	stateRequirements
	stateChallenge
	stateSend
	stateRetry
	stateStreaming
	stateContinue
	stateDone
	stateFailed
	stateAborted
)

var stateNames = [...]string{
	stateInit:         "INIT",
	stateAuthCheck:    "AUTH_CHECK",
	stateRequirements: "REQUIREMENTS",
	stateChallenge:    "CHALLENGE",
	stateSend:         "SEND",
	stateRetry:        "RETRY",
	stateStreaming:    "STREAMING",
	stateContinue:     "CONTINUE",
	stateDone:         "DONE",
	stateFailed:       "FAILED",
	stateAborted:      "ABORTED",
}

func (s turnState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("turnState(%d)", int(s))
}

// requirements is the decoded chat-requirements response.
type requirements struct {
	token     string
	arkose    bool
	turnstile bool
	proof     *challenge.Requirement
}

func parseRequirements(body []byte) requirements {
	root := gjson.ParseBytes(body)
	r := requirements{
		token:     root.Get("token").String(),
		arkose:    root.Get("arkose.required").Bool(),
		turnstile: root.Get("turnstile.required").Bool(),
	}
	if pow := root.Get("proofofwork"); pow.IsObject() {
		r.proof = &challenge.Requirement{
			Required:   pow.Get("required").Bool(),
			Seed:       pow.Get("seed").String(),
			Difficulty: pow.Get("difficulty").String(),
		}
	}
	return r
}

// turn is one request/response cycle including its continuations. It owns
// conv until the final done event hands a copy back to the caller.
type turn struct {
	p     *Provider
	req   ai.ChatRequest
	yield func(ai.StreamEvent, error) bool
	span  observability.Span

	model                string
	action               ai.Action
	conv                 *ai.Conversation
	existingConversation bool
	uploads              []uploadedImage
	autoContinue         bool
	retries              backoff.BackOff
	retried              int

	requirements requirements
	proof        string
	response     *http.Response
	err          error
}

func newTurn(p *Provider, req ai.ChatRequest) *turn {
	return &turn{p: p, req: req}
}

// run drives the state machine until the turn is done, failed or abandoned
// by the consumer.
func (t *turn) run(ctx context.Context, yield func(ai.StreamEvent, error) bool) {
	t.yield = yield
	t.span = observability.SpanFromContext(ctx)

	state := stateInit
	for {
		t.enter(ctx, state)
		switch state {
		case stateInit:
			state = t.init()
		case stateAuthCheck:
			state = t.authCheck(ctx)
		case stateRequirements:
			state = t.fetchRequirements(ctx)
		case stateChallenge:
			state = t.solveChallenge(ctx)
		case stateSend:
			state = t.send(ctx)
		case stateRetry:
			state = t.retry(ctx)
		case stateStreaming:
			state = t.stream(ctx)
		case stateContinue:
			state = t.continueTurn(ctx)
		case stateDone:
			t.done()
			return
		case stateFailed:
			if t.span != nil {
				t.span.RecordError(t.err)
			}
			t.yield(ai.StreamEvent{}, t.err)
			return
		default:
			return
		}
	}
}

func (t *turn) enter(ctx context.Context, state turnState) {
	t.p.logger.DebugContext(ctx, "turn state", "provider", providerName, "state", state.String())
	if t.span != nil {
		t.span.AddEvent(observability.EventTurnState, observability.String(observability.AttrTurnState, state.String()))
	}
}

func (t *turn) fail(err error) turnState {
	t.err = err
	return stateFailed
}

func (t *turn) init() turnState {
	t.model = resolveModel(t.req.Model)
	t.action = t.req.Action
	if t.action == "" {
		t.action = ai.ActionNext
	}

	if t.req.Conversation != nil {
		t.conv = t.req.Conversation.Clone()
		t.existingConversation = t.conv.ConversationID != ""
		if t.conv.MessageID == "" {
			t.conv.MessageID = uuid.NewString()
		}
	} else {
		t.conv = ai.NewConversation("", "")
	}
	t.conv.ResetFinish()
	t.conv.IsRecipient = true
	return stateAuthCheck
}

func (t *turn) authCheck(ctx context.Context) turnState {
	cfg := t.p.cfg
	if cfg.NeedsAuth {
		if t.p.needsSession() {
			ok, err := t.acquire(ctx)
			if !ok {
				return stateAborted
			}
			if err != nil {
				return t.fail(err)
			}
		}
		if err := t.p.bootstrap(ctx, defaultHeaders); err != nil {
			return t.fail(err)
		}
		if len(t.req.Images) > 0 {
			t.uploads = t.p.uploadImages(ctx, t.req.Images)
		}
	} else if !t.p.bootstrapped.Load() {
		if err := t.p.bootstrap(ctx, initHeaders); err != nil {
			return t.fail(err)
		}
		t.p.bootstrapped.Store(true)
	}

	authenticated := t.p.store.HasToken()
	t.autoContinue = cfg.AutoContinue && authenticated
	t.retries = backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryBackoff), uint64(max(cfg.MaxRetries, 0)))
	if t.span != nil {
		t.span.SetAttributes(
			observability.Bool(observability.AttrAuthenticated, authenticated),
			observability.String(observability.AttrAction, string(t.action)),
		)
	}
	return stateRequirements
}

// acquire refreshes the session and turns login URLs announced by the
// acquisition strategy into login events. It reports false when the
// consumer stopped iterating.
func (t *turn) acquire(ctx context.Context) (bool, error) {
	logins := make(chan string, 1)
	ctx, cancel := context.WithCancel(auth.WithLoginNotifier(ctx, func(loginURL string) {
		select {
		case logins <- loginURL:
		default:
		}
	}))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.p.refresh(ctx) }()

	for {
		select {
		case loginURL := <-logins:
			if !t.yield(ai.StreamEvent{Type: ai.StreamEventLogin, LoginURL: loginURL}, nil) {
				cancel()
				<-done
				return false, nil
			}
		case err := <-done:
			select {
			case loginURL := <-logins:
				if !t.yield(ai.StreamEvent{Type: ai.StreamEventLogin, LoginURL: loginURL}, nil) {
					return false, nil
				}
			default:
			}
			return true, err
		}
	}
}

// bootstrap loads the chat page to collect the session cookies.
func (p *Provider) bootstrap(ctx context.Context, base map[string]string) error {
	headers := append(utils.Headers(base), p.store.HeaderOptions()...)
	res, _, err := utils.DoRaw(ctx, p.client, http.MethodGet, p.baseURL, nil, headers...)
	p.store.CaptureResponse(res)
	if err != nil {
		return p.rejected("load chat page", err)
	}
	return nil
}

func (t *turn) fetchRequirements(ctx context.Context) turnState {
	var proofSeed *string
	if token, ok := t.p.solver.RequirementsToken(t.p.store.Challenge().ProofConfig); ok {
		proofSeed = &token
	}

	res, raw, err := utils.DoPostSync[json.RawMessage](ctx, t.p.client, t.p.url(t.p.backend()+"/sentinel/chat-requirements"), "",
		requirementsRequest{P: proofSeed}, t.p.headers()...)
	t.p.store.CaptureResponse(res)
	if err != nil {
		if utils.StatusCode(err) == http.StatusUnauthorized && t.span != nil {
			t.span.AddEvent(observability.EventCredentialsInvalidated)
		}
		return t.fail(t.p.rejected("chat requirements", err))
	}

	t.requirements = parseRequirements(*raw)
	if t.span != nil {
		t.span.SetAttributes(
			observability.Bool(observability.AttrChallengeArkoseRequired, t.requirements.arkose),
			observability.Bool(observability.AttrChallengeTurnstileRequired, t.requirements.turnstile),
			observability.Bool(observability.AttrChallengeProofRequired, t.requirements.proof != nil && t.requirements.proof.Required),
		)
	}
	return stateChallenge
}

func (t *turn) solveChallenge(ctx context.Context) turnState {
	t.proof = ""

	if t.requirements.arkose && t.p.store.Challenge().ArkoseToken == "" {
		t.p.logger.DebugContext(ctx, "arkose token required, acquiring a new session")
		ok, err := t.acquire(ctx)
		if !ok {
			return stateAborted
		}
		if err != nil {
			return t.fail(fmt.Errorf("%w: arkose token: %w", ai.ErrChallengeUnsolved, err))
		}
		if t.p.store.Challenge().ArkoseToken == "" {
			return t.fail(fmt.Errorf("%w: no arkose token in the acquired session", ai.ErrChallengeUnsolved))
		}
	}

	if req := t.requirements.proof; req != nil {
		state := t.p.store.Challenge()
		userAgent := t.p.userAgent()
		if len(state.ProofConfig) == 0 {
			state.ProofConfig = challenge.NewConfig(userAgent, t.p.clock.Now(), nil)
			t.p.store.SetChallenge(state)
		}
		proof, solved := t.p.solver.ProofOfWork(*req, state.ProofConfig)
		if req.Required && !solved {
			t.p.logger.WarnContext(ctx, "proof of work not solved, sending without proof token", "difficulty", req.Difficulty)
		}
		t.proof = proof
		if t.span != nil {
			t.span.SetAttributes(observability.Bool(observability.AttrChallengeProofSolved, solved))
		}
	}
	return stateSend
}

func (t *turn) send(ctx context.Context) turnState {
	state := t.p.store.Challenge()
	extra := []utils.HeaderOption{
		utils.Header("accept", "text/event-stream"),
		utils.Header("content-type", "application/json"),
	}
	if t.requirements.token != "" {
		extra = append(extra, utils.Header("openai-sentinel-chat-requirements-token", t.requirements.token))
	}
	if state.ArkoseToken != "" {
		extra = append(extra, utils.Header("openai-sentinel-arkose-token", state.ArkoseToken))
	}
	if t.proof != "" {
		extra = append(extra, utils.Header("openai-sentinel-proof-token", t.proof))
	}
	if t.requirements.turnstile && state.TurnstileToken != "" {
		extra = append(extra, utils.Header("openai-sentinel-turnstile-token", state.TurnstileToken))
	}

	res, err := utils.DoPostStream(ctx, t.p.client, t.p.url(t.p.backend()+"/conversation"), "", t.envelope(), t.p.headers(extra...)...)
	t.p.store.CaptureResponse(res)
	if err != nil {
		t.err = err
		if utils.StatusCode(err) == http.StatusForbidden {
			return stateRetry
		}
		return t.fail(t.p.rejected("conversation", err))
	}
	t.response = res
	return stateStreaming
}

// retry waits out the backoff after a 403, or ends the turn when the budget
// is spent.
func (t *turn) retry(ctx context.Context) turnState {
	wait := t.retries.NextBackOff()
	if wait == backoff.Stop {
		return t.fail(t.p.rejected("conversation", t.err))
	}
	t.retried++
	retriesLeft := max(t.p.cfg.MaxRetries, 0) - t.retried

	t.p.logger.DebugContext(ctx, "conversation rejected, retrying", "wait", wait.String(), "retries_left", retriesLeft, "error", t.err.Error())
	if t.span != nil {
		t.span.AddEvent(observability.EventTurnRetry, observability.Int(observability.AttrTurnRetriesLeft, retriesLeft))
	}
	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Counter(observability.MetricTurnRetries).Add(ctx, 1, observability.String(observability.AttrProvider, providerName))
	}

	if err := t.sleep(ctx, wait, "retry"); err != nil {
		return t.fail(err)
	}
	return stateSend
}

func (t *turn) stream(ctx context.Context) turnState {
	body := t.response.Body
	t.response = nil
	defer utils.CloseWithLog(body)

	if t.p.cfg.ReturnConversation {
		if !t.yield(ai.StreamEvent{Type: ai.StreamEventConversation, Conversation: t.conv.Clone()}, nil) {
			return stateAborted
		}
	}

	for line, err := range utils.Lines(body) {
		if err != nil {
			return t.fail(err)
		}
		var assets []ImageAsset
		for delta, err := range ParseLine(line, t.conv) {
			if err != nil {
				if !errors.Is(err, ai.ErrImageResolution) {
					return t.fail(err)
				}
				if !t.yield(ai.StreamEvent{}, err) {
					return stateAborted
				}
				continue
			}
			switch delta.Kind {
			case DeltaText:
				if !t.yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: delta.Text}, nil) {
					return stateAborted
				}
			case DeltaConversation:
				if !t.yield(ai.StreamEvent{Type: ai.StreamEventConversation, Conversation: t.conv.Clone()}, nil) {
					return stateAborted
				}
			case DeltaImage:
				assets = append(assets, *delta.Image)
			}
		}
		if !t.emitImages(ctx, assets) {
			return stateAborted
		}
	}

	if !t.conv.Finished() {
		t.conv.Finish(ai.FinishError)
		return t.fail(ai.ErrAmbiguousTermination)
	}
	if t.autoContinue && t.conv.FinishReason == ai.FinishMaxTokens {
		return stateContinue
	}
	return stateDone
}

// emitImages resolves the assets of one payload and yields them in order.
func (t *turn) emitImages(ctx context.Context, assets []ImageAsset) bool {
	if len(assets) == 0 {
		return true
	}
	results, errs := t.p.resolveImages(ctx, assets)
	for i := range assets {
		if errs[i] != nil {
			t.p.logger.WarnContext(ctx, "image resolution failed", "error", errs[i].Error())
			if !t.yield(ai.StreamEvent{}, errs[i]) {
				return false
			}
			continue
		}
		if !t.yield(ai.StreamEvent{Type: ai.StreamEventImage, Image: results[i]}, nil) {
			return false
		}
	}
	return true
}

func (t *turn) continueTurn(ctx context.Context) turnState {
	t.conv.ResetFinish()
	t.action = ai.ActionContinue
	if t.span != nil {
		t.span.AddEvent(observability.EventTurnContinue, observability.String(observability.AttrConversationID, t.conv.ConversationID))
	}
	if err := t.sleep(ctx, t.p.cfg.ContinueDelay, "continue"); err != nil {
		return t.fail(err)
	}
	return stateRequirements
}

func (t *turn) done() {
	if t.span != nil {
		t.span.SetAttributes(
			observability.String(observability.AttrFinishReason, t.conv.FinishReason),
			observability.String(observability.AttrConversationID, t.conv.ConversationID),
		)
	}
	if !t.p.cfg.HistoryDisabled && t.p.store.HasToken() {
		marker := &ai.SynthesizeParams{
			ConversationID: t.conv.ConversationID,
			MessageID:      t.conv.MessageID,
			Voice:          t.p.cfg.Voice,
		}
		if !t.yield(ai.StreamEvent{Type: ai.StreamEventSynthesize, Synthesize: marker}, nil) {
			return
		}
	}
	t.yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: t.conv.FinishReason, Conversation: t.conv.Clone()}, nil)
}

// sleep waits on the provider clock so tests can drive it.
func (t *turn) sleep(ctx context.Context, d time.Duration, tag string) error {
	timer := t.p.clock.NewTimer(d, "turn", tag)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
