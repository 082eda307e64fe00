package airforce

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/leofalp/webchat/internal/utils"
)

const (
	defaultModel      = "gpt-4o-mini"
	defaultImageModel = "flux"
)

var modelAliases = map[string]string{
	"gpt-4":          "gpt-4o",
	"openchat-3.5":   "openchat-3.5-0106",
	"deepseek-coder": "deepseek-coder-6.7b-instruct",
	"hermes-2-dpo":   "Nous-Hermes-2-Mixtral-8x7B-DPO",
	"hermes-2-pro":   "hermes-2-pro-mistral-7b",
	"openhermes-2.5": "openhermes-2.5-mistral-7b",
	"lfm-40b":        "lfm-40b-moe",
	"german-7b":      "discolm-german-7b-v1",
	"llama-2-7b":     "llama-2-7b-chat-int8",
	"llama-3.1-70b":  "llama-3.1-70b-turbo",
	"neural-7b":      "neural-chat-7b-v3-1",
	"zephyr-7b":      "zephyr-7b-beta",
	"evil":           "any-uncensored",
	"sdxl":           "stable-diffusion-xl-base",
	"flux-pro":       "flux-1.1-pro",
	"llama-3.1-8b":   "llama-3.1-8b-chat",
}

// extraImageModels are served by imagine2 without being listed by it.
var extraImageModels = []string{"flux-1.1-pro", "midjourney", "dall-e-3"}

var hiddenModels = []string{"Flux-1.1-Pro"}

func resolveModel(model string) string {
	if model == "" {
		return defaultModel
	}
	if alias, ok := modelAliases[model]; ok {
		return alias
	}
	return model
}

// imageModels returns the imagine2 models, fetched once. A failed fetch is
// not cached and falls back to the built-in list.
func (p *Provider) imageModels(ctx context.Context) []string {
	p.modelsMu.Lock()
	defer p.modelsMu.Unlock()
	if p.images != nil {
		return p.images
	}

	_, listed, err := utils.DoGetSync[[]string](ctx, p.client, p.baseURL+"/imagine2/models", "", p.headers("application/json")...)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to fetch image models", "provider", providerName, "error", err.Error())
		return append([]string{defaultImageModel}, extraImageModels...)
	}
	p.images = append(*listed, extraImageModels...)
	return p.images
}

// Models lists the text and image models, without hidden ones.
func (p *Provider) Models(ctx context.Context) []string {
	images := p.imageModels(ctx)

	p.modelsMu.Lock()
	defer p.modelsMu.Unlock()
	if p.models != nil {
		return p.models
	}

	var text []string
	_, raw, err := utils.DoGetSync[json.RawMessage](ctx, p.client, p.baseURL+"/models", "", p.headers("application/json")...)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to fetch text models", "provider", providerName, "error", err.Error())
		text = []string{defaultModel}
	} else {
		for _, id := range gjson.GetBytes(*raw, "data.#.id").Array() {
			text = append(text, id.String())
		}
	}

	models := slices.DeleteFunc(append(text, images...), func(model string) bool {
		return slices.Contains(hiddenModels, model)
	})
	if err == nil {
		p.models = models
	}
	return models
}

func (p *Provider) isImageModel(ctx context.Context, model string) bool {
	return slices.Contains(p.imageModels(ctx), model)
}
