// Package completion is an HTTP adapter for the text completion service used
// by ai_processing steps.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opsdesk/stepflow/pkg/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 1024
)

var ErrEmptyCompletion = errors.New("completion service returned no text")

type request struct {
	Prompt  string             `json:"prompt"`
	History []protocol.Message `json:"history,omitempty"`
}

type response struct {
	Text string `json:"text"`
}

// HTTPClient posts {prompt, history} to a completion endpoint and expects
// {text} back.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPClient(endpoint string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("module", "completion_client"),
	}
}

func (c *HTTPClient) Complete(ctx context.Context, prompt string, history []protocol.Message) (string, error) {
	body, err := json.Marshal(request{Prompt: prompt, History: history})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WarnContext(ctx, "failed to close completion response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return "", fmt.Errorf("completion service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out response

	err = json.NewDecoder(resp.Body).Decode(&out)
	if err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if out.Text == "" {
		return "", ErrEmptyCompletion
	}

	c.logger.DebugContext(ctx, "Completion received", "duration", time.Since(start), "prompt_length", len(prompt))

	return out.Text, nil
}
