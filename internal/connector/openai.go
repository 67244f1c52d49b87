package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// OpenAIConnectorID is the builtin chat-completions connector module id.
const OpenAIConnectorID = "openai-connector"

// OpenAIConnector dispatches prompts to an OpenAI-compatible
// chat-completions endpoint.
type OpenAIConnector struct {
	endpoint *types.Endpoint
	client   *http.Client
}

// NewOpenAIConnector constructs the connector from an endpoint descriptor.
func NewOpenAIConnector(endpoint *types.Endpoint) (registry.Connector, error) {
	if endpoint.URI == "" {
		return nil, types.NewError(types.VALIDATION_FAILED,
			"endpoint "+endpoint.ID+": uri is required for "+OpenAIConnectorID)
	}
	return &OpenAIConnector{
		endpoint: endpoint,
		client:   &http.Client{},
	}, nil
}

// ID returns the endpoint identifier this connector serves.
func (c *OpenAIConnector) ID() string {
	return c.endpoint.ID
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GetResponse sends the prompt as a single-turn chat completion.
func (c *OpenAIConnector) GetResponse(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody := chatRequest{Model: c.endpoint.Model, Messages: messages}
	if v, ok := c.endpoint.Params["temperature"].(float64); ok {
		reqBody.Temperature = &v
	}
	if v, ok := c.endpoint.Params["max_tokens"].(float64); ok {
		n := int(v)
		reqBody.MaxTokens = &n
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", types.WrapError(types.VALIDATION_FAILED, "serializing chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URI, bytes.NewReader(raw))
	if err != nil {
		return "", types.WrapError(types.VALIDATION_FAILED, "building chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", types.WrapRetryableError(types.CONNECTOR_TRANSIENT, "sending chat request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.WrapRetryableError(types.CONNECTOR_TRANSIENT, "reading chat response", err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", types.WrapError(types.CONNECTOR_REJECTED, "parsing chat response", err)
	}
	if parsed.Error != nil {
		return "", types.NewError(types.CONNECTOR_REJECTED, "endpoint error: "+parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewError(types.CONNECTOR_REJECTED, "chat response carries no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyStatus maps HTTP status codes onto the transient taxonomy:
// 5xx and 429 are retryable, other 4xx surface immediately.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return types.NewRetryableError(types.CONNECTOR_RATE_LIMITED,
			fmt.Sprintf("endpoint rate limited (status %d)", status))
	case status >= 500:
		return types.NewRetryableError(types.CONNECTOR_TRANSIENT,
			fmt.Sprintf("endpoint server error (status %d): %s", status, truncate(body, 200)))
	default:
		return types.NewError(types.CONNECTOR_REJECTED,
			fmt.Sprintf("endpoint rejected call (status %d): %s", status, truncate(body, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Close releases idle transport connections.
func (c *OpenAIConnector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// RegisterBuiltins registers the builtin connector modules and publishes
// their manifests for discovery.
func RegisterBuiltins(reg *registry.Registry) error {
	reg.RegisterConnector(OpenAIConnectorID, NewOpenAIConnector)
	return reg.WriteManifest(registry.CategoryConnector, registry.ModuleMetadata{
		ID:          OpenAIConnectorID,
		Name:        "OpenAI Connector",
		Description: "Chat-completions connector for OpenAI-compatible endpoints",
	})
}
