package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const providerOpenAI = "openai"

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OpenAIClient implements Completer and ImageGenerator against any
// OpenAI-compatible API (OpenAI, OpenRouter, vLLM, ...).
type OpenAIClient struct {
	client *resty.Client
	// download carries no credentials; generated images live on third-party CDNs
	download *Downloader
	baseURL  string
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
// Parameters:
//   - cfg: base URL, API key and a per-request timeout (0 means 60s).
//
// Returns:
//   - *OpenAIClient: ready-to-use client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	client := resty.New().
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &OpenAIClient{
		client:   client,
		download: NewDownloader(timeout),
		baseURL:  baseURL,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string, or []interface{} when an image is attached
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imagePart struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// Complete sends a chat completion request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	if req.Image != nil {
		messages = append(messages, chatMessage{
			Role: "user",
			Content: []interface{}{
				textPart{Type: "text", Text: req.Prompt},
				imagePart{Type: "image_url", ImageURL: imageURL{URL: req.Image.DataURL(), Detail: "high"}},
			},
		})
	} else {
		messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to call chat completions: %w", err)
	}
	if err := statusError(httpResp, resp.Error); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completions error: %s: %w", resp.Error.Message, ErrRejected)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("chat completions (status %d): %w", httpResp.StatusCode(), ErrEmptyResponse)
	}

	return resp.Choices[0].Message.Content, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// GenerateImage calls the images/generations endpoint.
func (c *OpenAIClient) GenerateImage(ctx context.Context, model, prompt, size string) (*GeneratedImage, error) {
	var resp imageResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(imageRequest{Model: model, Prompt: prompt, Size: size, N: 1}).
		SetResult(&resp).
		SetError(&resp).
		Post(c.baseURL + "/images/generations")
	if err != nil {
		return nil, fmt.Errorf("failed to call image generation: %w", err)
	}
	if err := statusError(httpResp, resp.Error); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation: %w", ErrEmptyResponse)
	}

	item := resp.Data[0]
	switch {
	case item.URL != "":
		return &GeneratedImage{URL: item.URL}, nil
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("image generation returned invalid base64: %w", ErrRejected)
		}
		return &GeneratedImage{Data: data, Format: "png"}, nil
	default:
		return nil, fmt.Errorf("image generation: %w", ErrEmptyResponse)
	}
}

// Fetch downloads url and returns its body and content type.
func (c *OpenAIClient) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return c.download.Fetch(ctx, url)
}

func statusError(resp *resty.Response, apiErr *apiError) error {
	return statusErrorFrom(providerOpenAI, resp, apiErr)
}

func statusErrorFrom(provider string, resp *resty.Response, apiErr *apiError) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	msg := string(resp.Body())
	if apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &StatusError{Provider: provider, StatusCode: code, Message: msg}
}
