package chatgpt

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/leofalp/webchat/internal/utils"
)

const defaultModel = "auto"

// FallbackModels is served when the model list cannot be fetched.
var FallbackModels = []string{defaultModel, "gpt-4", "gpt-4o", "gpt-4o-mini", "gpt-4o-canmore", "o1", "o1-preview", "o1-mini"}

// modelAliases maps friendly names to backend slugs.
var modelAliases = map[string]string{
	"default":       defaultModel,
	"gpt-4o-canvas": "gpt-4o-canmore",
	"gpt-4-turbo":   "gpt-4",
}

// resolveModel applies the alias table. An empty model selects "auto";
// unknown names are passed through for the backend to judge.
func resolveModel(model string) string {
	if model == "" {
		return defaultModel
	}
	if slug, ok := modelAliases[model]; ok {
		return slug
	}
	return model
}

// Models returns the model slugs offered to anonymous users. The list is
// fetched once; a failed fetch is logged and FallbackModels returned.
func (p *Provider) Models(ctx context.Context) []string {
	p.modelsMu.Lock()
	defer p.modelsMu.Unlock()
	if p.models != nil {
		return slices.Clone(p.models)
	}

	res, raw, err := utils.DoGetSync[json.RawMessage](ctx, p.client, p.url("/backend-anon/models"), "", p.headers()...)
	p.store.CaptureResponse(res)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to fetch model list, using fallback", "error", err.Error())
		return slices.Clone(FallbackModels)
	}

	var models []string
	for _, slug := range gjson.GetBytes(*raw, "models.#.slug").Array() {
		if slug.String() != "" {
			models = append(models, slug.String())
		}
	}
	if len(models) == 0 {
		p.logger.WarnContext(ctx, "model list is empty, using fallback")
		return slices.Clone(FallbackModels)
	}
	p.models = models
	return slices.Clone(models)
}
