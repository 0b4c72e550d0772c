package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// defaultBedrockModelID is an inference profile ID, not a foundation model ID.
	defaultBedrockModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	defaultBedrockMaxTokens = 2048

	// low temperature keeps structured output stable
	defaultBedrockTemperature = 0.2
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions are used when a Request leaves the corresponding field empty.
type BedrockOptions struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
}

// BedrockClient implements Completer with the Bedrock Converse API.
// Images must be sent inline; URL-only images are rejected.
type BedrockClient struct {
	brc  bedrockRuntimeClient
	opts BedrockOptions
}

func NewBedrockClient(brc bedrockRuntimeClient, opts BedrockOptions) *BedrockClient {
	if opts.ModelID == "" {
		opts.ModelID = defaultBedrockModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultBedrockMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultBedrockTemperature
	}
	return &BedrockClient{brc: brc, opts: opts}
}

// Complete sends one user turn through Converse and returns the joined text blocks.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (string, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.ModelID
	}
	maxTokens := c.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	temperature := c.opts.Temperature
	if req.Temperature > 0 {
		temperature = float32(req.Temperature)
	}

	msg := types.Message{Role: types.ConversationRoleUser}
	if req.Image != nil {
		if len(req.Image.Data) == 0 {
			return "", fmt.Errorf("bedrock needs inline image bytes: %w", ErrRejected)
		}
		msg.Content = append(msg.Content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: bedrockImageFormat(req.Image.Format),
				Source: &types.ImageSourceMemberBytes{Value: req.Image.Data},
			},
		})
	}
	msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: req.Prompt})

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: []types.Message{msg},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(temperature),
		},
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		return "", classifyBedrockError(err)
	}

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		return "", fmt.Errorf("bedrock response truncated at %d tokens: %w", maxTokens, ErrRejected)
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		return "", fmt.Errorf("bedrock response blocked by safety filters: %w", ErrRejected)
	}

	text := textFromConverse(out)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("bedrock converse: %w", ErrEmptyResponse)
	}
	return text, nil
}

func bedrockImageFormat(format string) types.ImageFormat {
	switch strings.ToLower(format) {
	case "png":
		return types.ImageFormatPng
	case "gif":
		return types.ImageFormatGif
	case "webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

func textFromConverse(out *bedrockruntime.ConverseOutput) string {
	if out == nil {
		return ""
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return ""
	}
	var texts []string
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	return strings.Join(texts, "\n")
}

// classifyBedrockError marks client-side faults as rejected so they are not retried.
func classifyBedrockError(err error) error {
	var (
		validation *types.ValidationException
		denied     *types.AccessDeniedException
		notFound   *types.ResourceNotFoundException
	)
	if errors.As(err, &validation) || errors.As(err, &denied) || errors.As(err, &notFound) {
		return fmt.Errorf("bedrock converse: %v: %w", err, ErrRejected)
	}
	return fmt.Errorf("bedrock converse: %w", err)
}
