package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/novaflow/voice-agent/internal/resilience"
)

// Client delivers payloads to a Zapier-style webhook URL.
type Client struct {
	httpClient *http.Client
	retry      *resilience.RetryConfig
}

// NewClient creates a webhook client retrying transient failures up to
// maxAttempts times.
func NewClient(maxAttempts int) *Client {
	retry := resilience.DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      retry,
	}
}

// Deliver posts {"response": text} to the webhook URL.
func (c *Client) Deliver(ctx context.Context, url, text string) error {
	body, err := json.Marshal(map[string]string{"response": text})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	return resilience.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook delivery failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	}, c.retry, resilience.IsRetryableNetworkError)
}
