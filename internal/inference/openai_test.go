package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIComplete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"items\":[]}"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"})
	text, err := client.Complete(context.Background(), Request{
		Model:  "gpt-4o",
		System: "be precise",
		Prompt: "what is on the plate?",
		Image:  &Image{Data: []byte{0xff, 0xd8}, Format: "jpeg"},
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, text)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, got["response_format"])
	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	parts := messages[1].(map[string]interface{})["content"].([]interface{})
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.Equal(t, "data:image/jpeg;base64,/9g=", image["url"])
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		target    error
	}{
		{name: "server error", status: 503, body: `{"error":{"message":"overloaded"}}`, retryable: true},
		{name: "rate limited", status: 429, body: `{"error":{"message":"slow down"}}`, retryable: true},
		{name: "bad request", status: 400, body: `{"error":{"message":"bad image"}}`, target: ErrRejected},
		{name: "no choices", status: 200, body: `{"choices":[]}`, target: ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
			_, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target))
			}
		})
	}
}

func TestOpenAIGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/meal.png"}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	img, err := client.GenerateImage(context.Background(), "dall-e-3", "a salad", "1024x1024")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/meal.png", img.URL)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.False(t, IsRetryable(&StatusError{StatusCode: 404}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: 502}))
}
