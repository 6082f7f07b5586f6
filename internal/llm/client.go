package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/pkg/logging"
)

const maxResponseBytes = 10 << 20

// RetryConfig centralizes the model-call retry parameters, mirroring
// the upstream invoker's policy object but kept independent: the two
// call different hosts with different SLAs.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 2, BackoffBase: 300 * time.Millisecond, BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Second}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	mult := 1.0
	for i := 1; i < attempt; i++ {
		mult *= c.BackoffMultiplier
	}
	d := time.Duration(float64(c.BackoffBase) * mult)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Client is the provider-agnostic model client C9 drives.
type Client struct {
	provider   Provider
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	retry      RetryConfig
	logger     *logging.Logger
}

// NewClient builds a Client bound to a single provider/model/endpoint.
func NewClient(provider Provider, baseURL, apiKey, model string) *Client {
	return &Client{
		provider:   provider,
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		retry:      DefaultRetryConfig(),
		logger:     logging.Default("llm-client"),
	}
}

// Complete sends one model turn with retry on transient failure. The
// caller supplies ctx's deadline; Complete never extends it.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, messages, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == c.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.ModelUnreachable, "model call timed out", ctx.Err())
		case <-time.After(c.retry.backoff(attempt)):
		}
	}
	if ctx.Err() != nil {
		return nil, errs.Wrap(errs.ModelUnreachable, "model call timed out", ctx.Err())
	}
	return nil, errs.Wrap(errs.ModelUnreachable, "model unreachable", lastErr)
}

func (c *Client) doRequest(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	body, err := c.provider.BuildRequestBody(c.model, messages, tools, 4096)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := c.provider.BuildURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(req, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("model request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("reading model response failed: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, NewTransientError(fmt.Errorf("model API status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, NewFatalError(fmt.Errorf("model API status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}

	parsed, err := c.provider.ParseResponse(raw)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("parse model response: %w", err))
	}
	return parsed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
