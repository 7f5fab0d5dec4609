package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/config"
	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/tracing"
)

// httpCapability is a JSON-over-HTTP client for one remote capability
// endpoint. Every call carries a timeout and the configured bounded retry
// policy; exhausted retries surface as an error to the caller.
type httpCapability struct {
	name    string
	baseURL string
	client  *http.Client
	retry   config.RetryConfig
	logger  *zap.Logger
}

func newHTTPCapability(name, baseURL string, timeout time.Duration, retry config.RetryConfig, logger *zap.Logger) *httpCapability {
	return &httpCapability{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		logger:  logger,
	}
}

// permanentStatus reports whether an HTTP status should not be retried.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// postJSON posts the input payload and decodes the response into out,
// retrying transient failures per the configured policy.
func (c *httpCapability) postJSON(ctx context.Context, path string, in, out any) error {
	ctx, span := tracing.StartCall(ctx, c.name)
	defer span.End()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	start := time.Now()
	attempts := 0
	op := func() error {
		attempts++
		return c.doOnce(ctx, path, payload, out)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.InitialBackoff
	policy.MaxInterval = c.retry.MaxBackoff
	policy.MaxElapsedTime = 0 // bounded by attempt count and ctx deadline

	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.retry.MaxAttempts-1)), ctx))

	metrics.CapabilityCallDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CapabilityCalls.WithLabelValues(c.name, "error").Inc()
		c.logger.Warn("Capability call failed",
			zap.String("capability", c.name),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return fmt.Errorf("%s call failed after %d attempt(s): %w", c.name, attempts, err)
	}
	metrics.CapabilityCalls.WithLabelValues(c.name, "ok").Inc()
	return nil
}

func (c *httpCapability) doOnce(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if permanentStatus(resp.StatusCode) {
			return backoff.Permanent(err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
