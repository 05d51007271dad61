// internal/llmclient/ollama.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/internal/config"
	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// OllamaEndpoint serves one locally hosted model through the Ollama REST
// API. Transient HTTP failures are retried with exponential backoff inside
// the caller's deadline; everything else is surfaced as an endpoint failure.
type OllamaEndpoint struct {
	cfg        config.ModelEndpointConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaEndpoint initializes the endpoint. The HTTP client carries no
// timeout of its own; the gateway bounds each call through the context.
func NewOllamaEndpoint(cfg config.ModelEndpointConfig, logger *zap.Logger) (*OllamaEndpoint, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ollama endpoint %q requires an endpoint URL", cfg.Name)
	}
	return &OllamaEndpoint{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{},
		logger:     logger.Named("llm_client.ollama").With(zap.String("endpoint", cfg.Name)),
	}, nil
}

// Name identifies the endpoint in logs and metrics events.
func (e *OllamaEndpoint) Name() string { return e.cfg.Name }

// Timeout is the per-call latency budget.
func (e *OllamaEndpoint) Timeout() time.Duration { return e.cfg.Timeout }

// Infer sends the rendered prompt to /api/generate and returns the raw
// completion text.
func (e *OllamaEndpoint) Infer(ctx context.Context, req agent.ReasoningRequest) (string, error) {
	options := map[string]any{}
	if e.cfg.Temperature > 0 {
		options["temperature"] = e.cfg.Temperature
	}
	if e.cfg.MaxTokens > 0 {
		options["num_predict"] = e.cfg.MaxTokens
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   e.cfg.Model,
		System:  SystemPrompt(),
		Prompt:  UserPrompt(req),
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	var completion string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			e.logger.Warn("Network error during generate request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return e.handleAPIError(resp.StatusCode, respBody)
		}

		var payload ollamaGenerateResponse
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode generate response: %w", err))
		}
		completion = payload.Response
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return completion, nil
}

func (e *OllamaEndpoint) handleAPIError(statusCode int, body []byte) error {
	err := fmt.Errorf("ollama API error: status %d, body: %s", statusCode, string(body))
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		// Transient, retry.
		return err
	default:
		return backoff.Permanent(err)
	}
}
