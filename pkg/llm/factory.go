package llm

import (
	"fmt"

	"github.com/kadirpekel/accord/pkg/config"
)

// New builds the provider named by the configuration. Defaults are
// applied first, so a zero-value config resolves the provider and API
// key from the environment.
func New(cfg *config.LLMConfig) (LLM, error) {
	if cfg == nil {
		cfg = &config.LLMConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, NewLLMError(string(cfg.Provider), fmt.Sprintf("unsupported provider %q", cfg.Provider), nil)
	}
}
