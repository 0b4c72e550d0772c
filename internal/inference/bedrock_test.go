package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBedrockClient implements bedrockRuntimeClient for testing
type mockBedrockClient struct {
	input    *bedrockruntime.ConverseInput
	response *bedrockruntime.ConverseOutput
	err      error
}

func (m *mockBedrockClient) Converse(ctx context.Context, input *bedrockruntime.ConverseInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = input
	return m.response, m.err
}

func textOutput(text string, reason types.StopReason) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		StopReason: reason,
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			},
		},
	}
}

func TestNewBedrockClientDefaults(t *testing.T) {
	client := NewBedrockClient(&mockBedrockClient{}, BedrockOptions{ModelID: "custom"})
	assert.Equal(t, BedrockOptions{
		ModelID:     "custom",
		MaxTokens:   defaultBedrockMaxTokens,
		Temperature: defaultBedrockTemperature,
	}, client.opts)
}

func TestBedrockComplete(t *testing.T) {
	mock := &mockBedrockClient{response: textOutput(`{"portions":[]}`, types.StopReasonEndTurn)}
	client := NewBedrockClient(mock, BedrockOptions{})

	text, err := client.Complete(context.Background(), Request{
		System: "sys",
		Prompt: "estimate",
		Image:  &Image{Data: []byte("img"), Format: "webp"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"portions":[]}`, text)

	assert.Equal(t, defaultBedrockModelID, aws.ToString(mock.input.ModelId))
	require.Len(t, mock.input.System, 1)
	content := mock.input.Messages[0].Content
	require.Len(t, content, 2)
	image, ok := content[0].(*types.ContentBlockMemberImage)
	require.True(t, ok)
	assert.Equal(t, types.ImageFormatWebp, image.Value.Format)
}

func TestBedrockCompleteFailures(t *testing.T) {
	tests := []struct {
		name      string
		mock      *mockBedrockClient
		req       Request
		retryable bool
	}{
		{
			name:      "throttled",
			mock:      &mockBedrockClient{err: &types.ThrottlingException{Message: aws.String("slow")}},
			retryable: true,
		},
		{
			name: "validation",
			mock: &mockBedrockClient{err: &types.ValidationException{Message: aws.String("bad")}},
		},
		{
			name: "truncated",
			mock: &mockBedrockClient{response: textOutput(`{"por`, types.StopReasonMaxTokens)},
		},
		{
			name: "empty",
			mock: &mockBedrockClient{response: textOutput("  ", types.StopReasonEndTurn)},
		},
		{
			name: "url only image",
			mock: &mockBedrockClient{},
			req:  Request{Image: &Image{URL: "https://example.com/a.jpg"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBedrockClient(tt.mock, BedrockOptions{}).Complete(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.False(t, errors.Is(err, context.Canceled))
		})
	}
}
