package chatgpt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
)

// SynthesizeContentType is the media type of Synthesize output.
const SynthesizeContentType = "audio/mpeg"

// Synthesize downloads the spoken version of a finished assistant message,
// as announced by a synthesize stream event. An empty voice uses the
// configured one.
func (p *Provider) Synthesize(ctx context.Context, params ai.SynthesizeParams) ([]byte, error) {
	if err := p.ensureSession(ctx); err != nil {
		return nil, err
	}
	if params.Voice == "" {
		params.Voice = p.cfg.Voice
	}

	query := url.Values{}
	query.Set("conversation_id", params.ConversationID)
	query.Set("message_id", params.MessageID)
	query.Set("voice", params.Voice)

	res, audio, err := utils.DoRaw(ctx, p.client, http.MethodGet, p.url("/backend-api/synthesize?"+query.Encode()), nil,
		p.headers(utils.Header("Accept", SynthesizeContentType))...)
	p.store.CaptureResponse(res)
	if err != nil {
		return nil, p.rejected("synthesize", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesize: %w: empty audio", ai.ErrUpstreamRejected)
	}
	return audio, nil
}
