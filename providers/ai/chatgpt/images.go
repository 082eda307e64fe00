package chatgpt

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
)

// resolveImages fetches a download URL for every asset, at most
// ImageConcurrency at a time, and returns once all fetches finished. Slot i
// of the results holds either an image or an error wrapping
// ai.ErrImageResolution.
func (p *Provider) resolveImages(ctx context.Context, assets []ImageAsset) ([]*ai.ImageResult, []error) {
	results := make([]*ai.ImageResult, len(assets))
	errs := make([]error, len(assets))

	var g errgroup.Group
	g.SetLimit(p.cfg.ImageConcurrency)
	for i, asset := range assets {
		g.Go(func() error {
			url, err := p.downloadURL(ctx, asset.FileID)
			if err != nil {
				errs[i] = fmt.Errorf("%w: %s: %w", ai.ErrImageResolution, asset.FileID, err)
				return nil
			}
			results[i] = &ai.ImageResult{URL: url, Prompt: asset.Prompt}
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

func (p *Provider) downloadURL(ctx context.Context, fileID string) (string, error) {
	res, body, err := utils.DoGetSync[fileURLResponse](ctx, p.client, p.url("/backend-api/files/"+fileID+"/download"), "", p.headers()...)
	p.store.CaptureResponse(res)
	if err != nil {
		return "", err
	}
	if body.DownloadURL == "" {
		return "", errors.New("response has no download url")
	}
	return body.DownloadURL, nil
}
