// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/internal/config"
	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// BuildChain constructs the ordered fallback chain from configuration. The
// slice order is the strict invocation order.
func BuildChain(ctx context.Context, logger *zap.Logger, cfg config.ModelsConfig) ([]agent.ReasoningEndpoint, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no model endpoints configured")
	}

	chain := make([]agent.ReasoningEndpoint, 0, len(cfg.Endpoints))
	for _, epCfg := range cfg.Endpoints {
		var (
			ep  agent.ReasoningEndpoint
			err error
		)
		switch epCfg.Provider {
		case config.ProviderOllama:
			ep, err = NewOllamaEndpoint(epCfg, logger)
		case config.ProviderGemini:
			ep, err = NewGeminiEndpoint(ctx, epCfg, logger)
		default:
			err = fmt.Errorf("unsupported provider %q", epCfg.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("building endpoint %q: %w", epCfg.Name, err)
		}
		chain = append(chain, ep)
	}
	return chain, nil
}
