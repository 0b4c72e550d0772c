package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/storage"
)

// ImageSource turns a job's image reference into something a model can see.
type ImageSource interface {
	Resolve(ctx context.Context, ref string) (*inference.Image, error)
}

// Fetcher downloads a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// StorageImageSource resolves object-storage keys and http(s) URLs.
// With Inline set the photo bytes are sent to the model instead of a URL,
// which keeps private buckets private.
type StorageImageSource struct {
	Store    storage.ObjectStorage // nil when only URLs are accepted
	Fetcher  Fetcher               // used for inline URL references; may be nil
	Inline   bool
	MaxBytes int64
	Retry    RetryPolicy
}

// Resolve implements ImageSource.
func (s *StorageImageSource) Resolve(ctx context.Context, ref string) (*inference.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &Failure{Stage: NameImage, Kind: ErrNotFound, Msg: "empty image reference"}
	}

	if isURL(ref) {
		if !s.Inline || s.Fetcher == nil {
			return &inference.Image{URL: ref}, nil
		}
		data, err := retry(ctx, s.Retry, NameImage, func(ctx context.Context) ([]byte, error) {
			data, _, err := s.Fetcher.Fetch(ctx, ref)
			return data, err
		})
		if err != nil {
			var se *inference.StatusError
			if errors.As(err, &se) && se.StatusCode == 404 {
				return nil, &Failure{Stage: NameImage, Kind: ErrNotFound, Msg: "image not found at " + ref}
			}
			return nil, AsFailure(NameImage, err)
		}
		return s.decode(data)
	}

	if s.Store == nil {
		return nil, &Failure{Stage: NameImage, Kind: ErrNotFound, Msg: "no object storage configured for key " + ref}
	}

	if !s.Inline {
		exists, err := retry(ctx, s.Retry, NameImage, func(ctx context.Context) (bool, error) {
			return s.Store.Exists(ctx, ref)
		})
		if err != nil {
			return nil, AsFailure(NameImage, err)
		}
		if !exists {
			return nil, &Failure{Stage: NameImage, Kind: ErrNotFound, Msg: "image not found: " + ref}
		}
		return &inference.Image{URL: s.Store.GetURL(ref)}, nil
	}

	data, err := retry(ctx, s.Retry, NameImage, func(ctx context.Context) ([]byte, error) {
		rc, err := s.Store.Download(ctx, ref)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, &Failure{Stage: NameImage, Kind: ErrNotFound, Msg: "image not found: " + ref}
			}
			return nil, err
		}
		defer rc.Close()
		return s.readLimited(rc)
	})
	if err != nil {
		return nil, AsFailure(NameImage, err)
	}
	return s.decode(data)
}

func (s *StorageImageSource) readLimited(r io.Reader) ([]byte, error) {
	if s.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, s.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.MaxBytes {
		return nil, &Failure{Stage: NameImage, Kind: ErrInvariant, Msg: fmt.Sprintf("image larger than %d bytes", s.MaxBytes)}
	}
	return data, nil
}

// decode sniffs the format so the provider gets a correct MIME type.
func (s *StorageImageSource) decode(data []byte) (*inference.Image, error) {
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return nil, &Failure{Stage: NameImage, Kind: ErrInvariant, Msg: fmt.Sprintf("image larger than %d bytes", s.MaxBytes)}
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &Failure{Stage: NameImage, Kind: ErrInvariant, Msg: "unsupported image: " + err.Error()}
	}
	return &inference.Image{Data: data, Format: format}, nil
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
