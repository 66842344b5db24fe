package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// Generator is the external model capability the pipeline consumes. It is
// only invoked with already-sanitized text, and only when the input
// decision is not Block.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HTTPGenerator forwards sanitized prompts to an upstream completion
// service over HTTP.
type HTTPGenerator struct {
	url        string
	client     *http.Client
	maxRetries uint64
	logger     *logger.Logger
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Output string `json:"output"`
}

// NewHTTPGenerator creates a generator backed by an upstream HTTP service
func NewHTTPGenerator(url string, timeout time.Duration, log *logger.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 1,
		logger:     log,
	}
}

// Generate posts the prompt upstream and returns the model output
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	var output string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("upstream returned HTTP %d", resp.StatusCode))
		}

		var decoded generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode upstream response: %w", err))
		}
		output = decoded.Output
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), g.maxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		g.logger.Warn("Upstream model call failed", zap.String("url", g.url), zap.Error(err))
		return "", err
	}
	return output, nil
}
