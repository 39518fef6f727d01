// Package llm is the remote cloud LLM client. It speaks the
// OpenAI-compatible chat completions protocol and owns the retry policy for
// transient upstream failures.
package llm

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

// Message is one chat turn. Assistant messages may carry a nil Content when
// only tool calls are present.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text builds a plain user/system/assistant message.
func Text(role, content string) Message {
	return Message{Role: role, Content: &content}
}

// ContentOrEmpty returns the content string, tolerating nil.
func (m Message) ContentOrEmpty() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall is a requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a callable tool in the request payload.
type Tool struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-schema description of a tool function.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Request is a chat completions call.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type responseBody struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const defaultTimeout = 60 * time.Second

// retryDelays is the backoff ladder for retryable status codes.
var retryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a remote LLM client.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Chat sends a completion request, retrying 429/5xx responses on the
// 1s/2s/4s ladder. The caller's context bounds the whole attempt chain.
func (c *Client) Chat(ctx context.Context, req Request) (*Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		msg, status, err := c.doOnce(ctx, payload)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if !retryable(status) || attempt >= len(retryDelays) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("llm request aborted: %w", ctx.Err())
		case <-time.After(retryDelays[attempt]):
		}
	}
}

// doOnce performs a single HTTP attempt. status is 0 for transport errors,
// which are retried like a 5xx (networks flap).
func (c *Client) doOnce(ctx context.Context, payload []byte) (*Message, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, http.StatusRequestTimeout, fmt.Errorf("llm request aborted: %w", err)
		}
		return nil, http.StatusServiceUnavailable, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("llm returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, resp.StatusCode, fmt.Errorf("llm error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, resp.StatusCode, fmt.Errorf("llm returned no choices")
	}
	return &parsed.Choices[0].Message, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
