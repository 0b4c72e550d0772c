package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Downloader fetches images over plain HTTP, without provider credentials.
type Downloader struct {
	client *resty.Client
}

// NewDownloader creates a Downloader; a zero timeout means 60s.
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{client: resty.New().SetTimeout(timeout)}
}

// Fetch downloads url and returns its body and content type.
// Non-2xx answers are returned as *StatusError.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	httpResp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	if err := statusErrorFrom("download", httpResp, nil); err != nil {
		return nil, "", err
	}
	return httpResp.Body(), httpResp.Header().Get("Content-Type"), nil
}
