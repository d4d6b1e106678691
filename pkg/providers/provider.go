// Package providers abstracts the upstream completion backend. The relay
// itself never cares which vendor produced a reply; it hands over the current
// conversation window and gets text back.
package providers

import (
	"context"
	"fmt"

	"github.com/ioperator-ai/relay/pkg/config"
	anthropicprovider "github.com/ioperator-ai/relay/pkg/providers/anthropic"
	openaiprovider "github.com/ioperator-ai/relay/pkg/providers/openai"
	"github.com/ioperator-ai/relay/pkg/providers/protocoltypes"
)

type (
	Turn    = protocoltypes.Turn
	Options = protocoltypes.Options
)

// Provider issues one completion call for a conversation window.
type Provider = protocoltypes.Provider

// New selects the provider configured in LLM_PROVIDER. Missing credentials
// are a construction-time error; call-time failures are the conversation
// client's problem.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		if cfg.LLM.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return openaiprovider.NewProvider(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIModel), nil
	case config.ProviderAnthropic:
		if cfg.LLM.AnthropicKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return anthropicprovider.NewProvider(cfg.LLM.AnthropicKey, cfg.LLM.AnthropicModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}
}

// Func adapts a function to the Provider interface, for tests.
type Func func(ctx context.Context, turns []Turn, opts Options) (string, error)

func (f Func) Complete(ctx context.Context, turns []Turn, opts Options) (string, error) {
	return f(ctx, turns, opts)
}
