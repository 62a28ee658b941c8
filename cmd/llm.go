package cmd

import (
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/llm"
)

// newExtractor creates the model extractor from anthropic.* config. The API
// key is per tenant and supplied on every call.
func newExtractor() *llm.Extractor {
	return llm.NewExtractor(llm.Config{
		Model:      viper.GetString("anthropic.model"),
		MaxTokens:  viper.GetInt64("anthropic.max_tokens"),
		Timeout:    viper.GetDuration("anthropic.timeout"),
		MaxRetries: viper.GetInt("anthropic.max_retries"),
		BaseURL:    viper.GetString("anthropic.base_url"),
	})
}
