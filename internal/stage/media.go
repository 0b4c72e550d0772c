package stage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/prompts"
	"github.com/timmy/nutrilens/internal/storage"
)

// MediaGenerator renders the optimized meal and stores the image.
type MediaGenerator struct {
	gen     inference.ImageGenerator
	fetcher Fetcher
	store   storage.ObjectStorage
	model   string
	size    string
	prefix  string
	retry   RetryPolicy
}

type MediaOptions struct {
	Model  string
	Size   string
	Prefix string // object key prefix for generated images
	Retry  RetryPolicy
}

// NewMediaGenerator wires the media stage. store may be nil, in which case
// provider URLs are returned as is and base64 images cannot be kept.
func NewMediaGenerator(gen inference.ImageGenerator, fetcher Fetcher, store storage.ObjectStorage, opts MediaOptions) *MediaGenerator {
	if opts.Size == "" {
		opts.Size = "1024x1024"
	}
	if opts.Prefix == "" {
		opts.Prefix = "generated"
	}
	return &MediaGenerator{
		gen:     gen,
		fetcher: fetcher,
		store:   store,
		model:   opts.Model,
		size:    opts.Size,
		prefix:  opts.Prefix,
		retry:   opts.Retry,
	}
}

// Generate never fails the job: every problem becomes an unavailable image.
func (m *MediaGenerator) Generate(ctx context.Context, jobID string, opt *domain.OptimizedMeal) *domain.GeneratedImage {
	if opt == nil || opt.Status != domain.OutputAvailable {
		return &domain.GeneratedImage{Status: domain.OutputUnavailable, Reason: "no optimized meal to illustrate"}
	}
	desc := opt.ImagePrompt
	if desc == "" {
		desc = opt.ImprovedDescription
	}
	if strings.TrimSpace(desc) == "" {
		return &domain.GeneratedImage{Status: domain.OutputUnavailable, Reason: "empty image prompt"}
	}

	ref, err := m.render(ctx, jobID, prompts.FoodPhotoPrompt(desc))
	if err != nil {
		return &domain.GeneratedImage{Status: domain.OutputUnavailable, Reason: err.Error()}
	}
	return &domain.GeneratedImage{Status: domain.OutputAvailable, Ref: ref}
}

func (m *MediaGenerator) render(ctx context.Context, jobID, prompt string) (string, error) {
	img, err := retry(ctx, m.retry, NameMedia, func(ctx context.Context) (*inference.GeneratedImage, error) {
		return m.gen.GenerateImage(ctx, m.model, prompt, m.size)
	})
	if err != nil {
		return "", AsFailure(NameMedia, err)
	}

	data, format := img.Data, img.Format
	if len(data) == 0 {
		if m.store == nil || m.fetcher == nil {
			return img.URL, nil
		}
		// Provider URLs expire, so keep our own copy.
		var contentType string
		data, contentType, err = m.fetcher.Fetch(ctx, img.URL)
		if err != nil {
			return "", AsFailure(NameMedia, err)
		}
		format = formatFromContentType(contentType)
	}
	if m.store == nil {
		return "", &Failure{Stage: NameMedia, Kind: ErrInvariant, Msg: "no object storage configured for generated image"}
	}
	if format == "" {
		format = "png"
	}

	key := path.Join(m.prefix, fmt.Sprintf("%s.%s", jobID, format))
	if err := m.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), inference.MIMEType(format)); err != nil {
		return "", AsFailure(NameMedia, fmt.Errorf("upload generated image: %w", err))
	}
	return m.store.GetURL(key), nil
}

func formatFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return "jpeg"
	case strings.Contains(ct, "webp"):
		return "webp"
	case strings.Contains(ct, "gif"):
		return "gif"
	default:
		return "png"
	}
}
