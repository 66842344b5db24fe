package classify

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

// HTTPClassifier calls a remote scoring service. Transient failures are
// retried with exponential backoff until the request context expires.
type HTTPClassifier struct {
	url        string
	client     *http.Client
	maxRetries uint64
	logger     *logger.Logger
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Verdicts []Verdict `json:"verdicts"`
}

// NewHTTPClassifier creates a classifier backed by a remote HTTP service
func NewHTTPClassifier(url string, timeout time.Duration, log *logger.Logger) *HTTPClassifier {
	return &HTTPClassifier{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 2,
		logger:     log,
	}
}

// Classify posts the text to the scoring service and decodes its verdicts
func (c *HTTPClassifier) Classify(ctx context.Context, text string) ([]Verdict, error) {
	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	var verdicts []Verdict
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("classifier returned HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("classifier returned HTTP %d", resp.StatusCode))
		}

		var decoded classifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode classifier response: %w", err))
		}
		verdicts = decoded.Verdicts
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), c.maxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Warn("Classifier call failed", zap.String("url", c.url), zap.Error(err))
		return nil, err
	}
	return verdicts, nil
}
