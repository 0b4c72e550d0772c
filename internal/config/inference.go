package config

import (
	"fmt"
	"os"
	"time"
)

// InferenceConfig configures the model provider behind every inference stage.
type InferenceConfig struct {
	Provider       string        `mapstructure:"provider"` // "openai" (any OpenAI-compatible API) or "bedrock"
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	Timeout        time.Duration `mapstructure:"timeout"` // per attempt
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	InlineImages   bool          `mapstructure:"inline_images"` // send photo bytes instead of a URL
	MaxImageBytes  int64         `mapstructure:"max_image_bytes"`
	ImageSize      string        `mapstructure:"image_size"`
	Models         StageModels   `mapstructure:"models"`
	Bedrock        BedrockConfig `mapstructure:"bedrock"`
}

// StageModels names the model used by each stage. For Bedrock these are model IDs.
type StageModels struct {
	Recognition  string `mapstructure:"recognition"`
	Portion      string `mapstructure:"portion"`
	Advisory     string `mapstructure:"advisory"`
	Optimization string `mapstructure:"optimization"`
	Image        string `mapstructure:"image"`
}

type BedrockConfig struct {
	Region string `mapstructure:"region"`
}

// ResolveEnvVars loads the API key from APIKeyEnv when no direct value is set.
func (c *InferenceConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		c.APIKey = os.Getenv(c.APIKeyEnv)
	}
}

// Validate checks that the inference configuration has all required fields.
func (c *InferenceConfig) Validate() error {
	switch c.Provider {
	case "openai":
		if c.BaseURL == "" {
			return fmt.Errorf("inference: base_url is required for provider openai")
		}
	case "bedrock":
		if c.Bedrock.Region == "" {
			return fmt.Errorf("inference: bedrock.region is required for provider bedrock")
		}
		if !c.InlineImages {
			return fmt.Errorf("inference: bedrock requires inline_images")
		}
	default:
		return fmt.Errorf("inference: unknown provider %q", c.Provider)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("inference: max_attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("inference: timeout must be positive")
	}
	if c.Models.Recognition == "" || c.Models.Portion == "" {
		return fmt.Errorf("inference: recognition and portion models are required")
	}
	return nil
}

// WorstCaseCall is the longest a single stage call can take: every attempt
// runs to its timeout with the longest backoff between attempts.
func (c *InferenceConfig) WorstCaseCall() time.Duration {
	if c.MaxAttempts <= 0 {
		return c.Timeout
	}
	return time.Duration(c.MaxAttempts)*c.Timeout + time.Duration(c.MaxAttempts-1)*c.MaxBackoff
}
