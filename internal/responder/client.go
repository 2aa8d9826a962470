// Package responder implements the upstream prediction client. It posts a
// chat prompt to a flow's prediction endpoint and decodes the reply out of
// the handful of response shapes the upstream emits (plain text, an agent
// reasoning trail, or something else entirely).
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UnparsedReplyText is returned when the upstream answered but no usable
// text could be extracted from the response body.
const UnparsedReplyText = "Could not parse the response. Please try again."

// maxResponseBytes caps how much of an upstream reply is read.
const maxResponseBytes = 1 << 20

// predictionRequest is the upstream request body. The session identifier
// rides in overrideConfig so upstream conversation memory is scoped to it.
type predictionRequest struct {
	Question       string         `json:"question"`
	OverrideConfig overrideConfig `json:"overrideConfig"`
}

type overrideConfig struct {
	SessionID string `json:"sessionId"`
}

// Client talks to a prediction API over HTTP.
type Client struct {
	// BaseURL is the API root, e.g. "http://flowise:3000".
	BaseURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// HTTPClient carries the request timeout.
	HTTPClient *http.Client
}

// New constructs a Client with the given base URL and per-request timeout.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Respond posts the prompt to the flow's prediction endpoint and returns the
// decoded reply. A reply that arrives but cannot be decoded is not an error:
// it comes back as UnparsedReplyText so the turn still completes.
func (c *Client) Respond(ctx context.Context, flowID, upstreamSessionID, prompt string) (string, error) {
	body, err := json.Marshal(predictionRequest{
		Question:       prompt,
		OverrideConfig: overrideConfig{SessionID: upstreamSessionID},
	})
	if err != nil {
		return "", fmt.Errorf("encode prediction request: %w", err)
	}

	url := c.BaseURL + "/api/v1/prediction/" + flowID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read prediction response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("prediction endpoint returned %d", resp.StatusCode)
	}

	return DecodeReply(raw), nil
}
