// Package inference talks to hosted model providers. It knows nothing about
// meals: callers send a prompt, an optional image, and get text back.
package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Image is a photo attached to a request. Data wins over URL when both are set.
type Image struct {
	Data   []byte
	Format string // jpeg, png, gif, webp
	URL    string
}

// MIMEType returns the content type for the image format.
func (i *Image) MIMEType() string {
	return MIMEType(i.Format)
}

// DataURL returns Data encoded as a data: URL, or URL when there is no data.
func (i *Image) DataURL() string {
	if len(i.Data) == 0 {
		return i.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType(), base64.StdEncoding.EncodeToString(i.Data))
}

// MIMEType maps an image format name to its content type.
func MIMEType(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Request is a single-turn completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Image       *Image
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Completer returns the model's text reply to a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeneratedImage is the provider's answer to an image generation request.
// Exactly one of URL or Data is set.
type GeneratedImage struct {
	URL    string
	Data   []byte
	Format string
}

// ImageGenerator produces an image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt, size string) (*GeneratedImage, error)
}

var (
	// ErrEmptyResponse means the provider answered without any content.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrRejected means the provider refused the request; repeating it will not help.
	ErrRejected = errors.New("request rejected by provider")
)

// StatusError is a non-2xx HTTP answer.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func (e *StatusError) Unwrap() error {
	if e.Temporary() {
		return nil
	}
	return ErrRejected
}

// IsRetryable reports whether err is a transport problem that may go away on
// a later attempt: network errors, timeouts, throttling and 5xx answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrRejected) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
