package batch

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaharzep/decision-extract/internal/common"
)

// New builds the named provider from configuration. Missing credentials or an
// unknown name fail here, before any work starts; there is no silent fallback
// to a different provider.
func New(name string, cfg common.BatchConfig, logger *slog.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		}, logger)
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Timeout: cfg.Timeout,
		}, logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR",
			fmt.Sprintf("unknown batch provider %q", name), common.ErrConfiguration)
	}
}
