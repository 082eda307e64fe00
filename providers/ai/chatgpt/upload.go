package chatgpt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	_ "golang.org/x/image/webp"

	"github.com/leofalp/webchat/internal/utils"
	"github.com/leofalp/webchat/providers/ai"
)

// uploadedImage is an image stored by the backend for a vision turn.
type uploadedImage struct {
	FileID      string
	FileName    string
	FileSize    int
	MimeType    string
	Width       int
	Height      int
	DownloadURL string
}

type fileCreateRequest struct {
	FileName string `json:"file_name"`
	FileSize int    `json:"file_size"`
	UseCase  string `json:"use_case"`
}

type fileCreateResponse struct {
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
}

type fileURLResponse struct {
	DownloadURL string `json:"download_url"`
}

// uploadImages stores every image. Failed uploads are logged and left out so
// the turn still runs with the text.
func (p *Provider) uploadImages(ctx context.Context, images []ai.ImageInput) []uploadedImage {
	uploads := make([]uploadedImage, 0, len(images))
	for _, img := range images {
		upload, err := p.uploadImage(ctx, img)
		if err != nil {
			p.logger.WarnContext(ctx, "image upload failed", "file_name", img.Name, "error", err.Error())
			continue
		}
		uploads = append(uploads, upload)
	}
	return uploads
}

// uploadImage creates a file, PUTs the bytes to the returned blob URL and
// marks the file uploaded.
func (p *Provider) uploadImage(ctx context.Context, img ai.ImageInput) (uploadedImage, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return uploadedImage{}, fmt.Errorf("decode image: %w", err)
	}
	upload := uploadedImage{
		FileName: img.Name,
		FileSize: len(img.Data),
		MimeType: http.DetectContentType(img.Data),
		Width:    config.Width,
		Height:   config.Height,
	}

	res, created, err := utils.DoPostSync[fileCreateResponse](ctx, p.client, p.url("/backend-api/files"), "",
		fileCreateRequest{FileName: img.Name, FileSize: upload.FileSize, UseCase: "multimodal"}, p.headers()...)
	p.store.CaptureResponse(res)
	if err != nil {
		return uploadedImage{}, fmt.Errorf("create file: %w", err)
	}
	if created.FileID == "" || created.UploadURL == "" {
		return uploadedImage{}, errors.New("create file: response has no upload url")
	}
	upload.FileID = created.FileID

	_, _, err = utils.DoRaw(ctx, p.client, http.MethodPut, created.UploadURL, bytes.NewReader(img.Data),
		utils.Header("Accept", "application/json, text/plain, */*"),
		utils.Header("User-Agent", p.userAgent()),
		utils.Header("Content-Type", upload.MimeType),
		utils.Header("x-ms-blob-type", "BlockBlob"),
		utils.Header("x-ms-version", "2020-04-08"),
		utils.Header("Origin", p.baseURL),
	)
	if err != nil {
		return uploadedImage{}, fmt.Errorf("put blob: %w", err)
	}

	res, uploaded, err := utils.DoPostSync[fileURLResponse](ctx, p.client, p.url("/backend-api/files/"+upload.FileID+"/uploaded"), "",
		struct{}{}, p.headers()...)
	p.store.CaptureResponse(res)
	if err != nil {
		return uploadedImage{}, fmt.Errorf("mark uploaded: %w", err)
	}
	upload.DownloadURL = uploaded.DownloadURL
	return upload, nil
}
