package batch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

// SourceResolver turns ImageInputs into bytes, fetching remote sources over
// HTTP. Fetched content is held to the same size and media type limits as
// uploaded files.
type SourceResolver struct {
	client *http.Client
}

func NewSourceResolver(client *http.Client) *SourceResolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SourceResolver{client: client}
}

func (r *SourceResolver) Resolve(ctx context.Context, images []domain.ImageInput) ([]domain.ImageFile, error) {
	files := make([]domain.ImageFile, 0, len(images))
	for i, img := range images {
		file, err := r.resolve(ctx, img)
		if err != nil {
			return nil, domain.AtImage(err, i, img.Name)
		}
		files = append(files, file)
	}
	return files, nil
}

func (r *SourceResolver) resolve(ctx context.Context, img domain.ImageInput) (domain.ImageFile, error) {
	switch img.Source.Kind() {
	case domain.SourceBytes:
		data := img.Source.Bytes()
		return domain.ImageFile{
			Name:      img.Name,
			MediaType: domain.DetectMediaType(img.MediaType, data),
			Data:      data,
		}, nil
	case domain.SourceRemote:
		return r.fetch(ctx, img)
	default:
		return domain.ImageFile{}, domain.Validation("resolve source", domain.ErrMissingSource)
	}
}

func (r *SourceResolver) fetch(ctx context.Context, img domain.ImageInput) (domain.ImageFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.Source.URL(), nil)
	if err != nil {
		return domain.ImageFile{}, domain.Transport("fetch source", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.ImageFile{}, domain.Transport("fetch source", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ImageFile{}, domain.Transport("fetch source", fmt.Errorf("GET %s: status %d", img.Source.URL(), resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, domain.MaxFileBytes+1))
	if err != nil {
		return domain.ImageFile{}, domain.Transport("fetch source", err)
	}
	if len(data) > domain.MaxFileBytes {
		return domain.ImageFile{}, domain.Validation("fetch source", fmt.Errorf("%w: %s", domain.ErrFileTooLarge, img.Name))
	}

	mediaType := domain.DetectMediaType(resp.Header.Get("Content-Type"), data)
	if !domain.IsImageMediaType(mediaType) {
		mediaType = domain.DetectMediaType("", data)
	}
	if !domain.IsImageMediaType(mediaType) {
		return domain.ImageFile{}, domain.Validation("fetch source", fmt.Errorf("%w: %s", domain.ErrNotImage, img.Name))
	}

	return domain.ImageFile{Name: img.Name, MediaType: mediaType, Data: data}, nil
}
