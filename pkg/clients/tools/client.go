// Package tools is an HTTP adapter for the external tool runner used by
// tool_execution steps.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opsdesk/stepflow/pkg/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 1024
	actorHeader    = "X-Actor-ID"
)

type invokeRequest struct {
	Parameters map[string]any `json:"parameters"`
	ActorID    string         `json:"actor_id,omitempty"`
}

// HTTPClient invokes tools at <base>/tools/<slug>/invoke.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("module", "tools_client"),
	}
}

// Invoke returns transport failures as errors. A tool that ran and reported
// failure comes back as a result with Success false.
func (c *HTTPClient) Invoke(ctx context.Context, toolSlug string, params map[string]any, actorID string) (*protocol.ToolResult, error) {
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(invokeRequest{Parameters: params, ActorID: actorID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters for tool %s: %w", toolSlug, err)
	}

	endpoint := c.baseURL + "/tools/" + url.PathEscape(toolSlug) + "/invoke"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for tool %s: %w", toolSlug, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if actorID != "" {
		req.Header.Set(actorHeader, actorID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %s request failed: %w", toolSlug, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WarnContext(ctx, "failed to close tool response body", "tool", toolSlug, "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, fmt.Errorf("tool service returned %d for %s: %s", resp.StatusCode, toolSlug, strings.TrimSpace(string(detail)))
	}

	var result protocol.ToolResult

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result of tool %s: %w", toolSlug, err)
	}

	if resp.StatusCode >= http.StatusBadRequest && result.Success {
		result.Success = false
	}

	if !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("tool %s failed with status %d", toolSlug, resp.StatusCode)
	}

	c.logger.DebugContext(ctx, "Tool invoked", "tool", toolSlug, "success", result.Success)

	return &result, nil
}
