// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/voidgazer8/deskpilot-cli/internal/config"
	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// GeminiEndpoint serves a hosted Gemini model through the official SDK.
type GeminiEndpoint struct {
	cfg    config.ModelEndpointConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiEndpoint initializes the endpoint. The API key comes from the
// endpoint config or the DESKPILOT_GEMINI_API_KEY / GEMINI_API_KEY
// environment variables, in that order.
func NewGeminiEndpoint(ctx context.Context, cfg config.ModelEndpointConfig, logger *zap.Logger) (*GeminiEndpoint, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("DESKPILOT_GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini endpoint %q requires an API key", cfg.Name)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiEndpoint{
		cfg:    cfg,
		client: client,
		logger: logger.Named("llm_client.gemini").With(zap.String("endpoint", cfg.Name)),
	}, nil
}

// Name identifies the endpoint in logs and metrics events.
func (e *GeminiEndpoint) Name() string { return e.cfg.Name }

// Timeout is the per-call latency budget.
func (e *GeminiEndpoint) Timeout() time.Duration { return e.cfg.Timeout }

// Infer sends the rendered prompt and returns the raw completion text.
func (e *GeminiEndpoint) Infer(ctx context.Context, req agent.ReasoningRequest) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(), genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if e.cfg.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(e.cfg.Temperature)
	}
	if e.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(e.cfg.MaxTokens)
	}

	start := time.Now()
	resp, err := e.client.Models.GenerateContent(ctx, e.cfg.Model, genai.Text(UserPrompt(req)), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini API returned no text candidates")
	}

	e.logger.Debug("LLM generation complete",
		zap.Duration("duration", time.Since(start)),
		zap.String("model", e.cfg.Model),
	)
	return text, nil
}
