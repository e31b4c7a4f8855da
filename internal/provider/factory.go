package provider

import (
	"context"
	"fmt"
)

const (
	APIOpenAI       = "openai-completions"
	APIAnthropic    = "anthropic-messages"
	APIAnthropicSDK = "anthropic-sdk"
	APIGemini       = "gemini"
)

// ProviderConfig mirrors config.ProviderConfig to avoid circular imports.
type ProviderConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	API       string
	Bedrock   bool
	AWSRegion string
	Models    []ModelInfo
}

// FromConfig creates a Provider from a config entry. The api field
// determines which wire format to use:
//   - "openai-completions"  -> OpenAI-compatible (OpenAI, OVH, Ollama, vLLM, etc.)
//   - "anthropic-messages"  -> Anthropic Messages API over plain HTTP
//   - "anthropic-sdk"       -> Anthropic SDK, optionally through AWS Bedrock
//   - "gemini"              -> Google Gemini API
func FromConfig(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch cfg.API {
	case APIOpenAI, "":
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models), nil
	case APIAnthropic:
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models), nil
	case APIAnthropicSDK:
		return NewClaudeSDKProvider(ctx, ClaudeSDKConfig{
			ID:        cfg.ID,
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Bedrock:   cfg.Bedrock,
			AWSRegion: cfg.AWSRegion,
			Models:    cfg.Models,
		})
	case APIGemini:
		return NewGeminiProvider(ctx, cfg.ID, cfg.APIKey, cfg.Models)
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s, %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic, APIAnthropicSDK, APIGemini)
	}
}
