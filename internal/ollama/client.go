// Package ollama is the HTTP client for the local model server. It covers
// the subset of the API the runtime assumes: tags, ps, generate, pull,
// embeddings, and the keep_alive:0 unload trick.
//
// Callers own the deadline: every method takes a context and the runtime
// wraps each call with the budget of that call site (health probe 3s,
// classifier 30s, warmup 60s, unload 10s, embedding 30s).
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a local Ollama-compatible server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-level timeout: deadlines come from the caller's
		// context so pulls can stream for minutes.
		client: &http.Client{},
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// =============================================================================
// TYPES
// =============================================================================

// ModelInfo describes an installed or loaded model.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// GenerateOptions are the sampling options of a generate call.
type GenerateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

type generateRequest struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	KeepAlive *int             `json:"keep_alive,omitempty"`
	Options   *GenerateOptions `json:"options,omitempty"`
}

// GenerateResponse is the non-streaming generate result.
type GenerateResponse struct {
	Response      string `json:"response"`
	EvalCount     int    `json:"eval_count,omitempty"`
	TotalDuration int64  `json:"total_duration,omitempty"`
}

// PullProgress is one NDJSON line of a streaming pull.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Version probes the server with the lightweight version endpoint.
// Used by the health monitor; the returned latency feeds the
// memory-pressure detector.
func (c *Client) Version(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return time.Since(start), nil
}

// Tags returns the installed models.
func (c *Client) Tags(ctx context.Context) ([]ModelInfo, error) {
	var out tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// PS returns the currently loaded models. Older servers do not implement
// /api/ps; a 404 is reported as (nil, nil) so callers treat the list as
// unknown rather than failing health checks.
func (c *Client) PS(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var out tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Models, nil
}

// Generate runs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, model, prompt string, opts *GenerateOptions) (*GenerateResponse, error) {
	reqBody := generateRequest{Model: model, Prompt: prompt, Stream: false, Options: opts}
	var out GenerateResponse
	if err := c.postJSON(ctx, "/api/generate", reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Warm loads a model by asking it for a single token.
func (c *Client) Warm(ctx context.Context, model string) error {
	_, err := c.Generate(ctx, model, "hola", &GenerateOptions{NumPredict: 1})
	return err
}

// Unload evicts a model by issuing a generate with keep_alive 0.
func (c *Client) Unload(ctx context.Context, model string) error {
	zero := 0
	reqBody := generateRequest{Model: model, Prompt: "", Stream: false, KeepAlive: &zero}
	var out GenerateResponse
	return c.postJSON(ctx, "/api/generate", reqBody, &out)
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	var out embedResponse
	if err := c.postJSON(ctx, "/api/embeddings", embedRequest{Model: model, Prompt: text}, &out); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// Pull downloads a model, invoking progress for each NDJSON status line.
// The stream terminates when the server reports status "success".
func (c *Client) Pull(ctx context.Context, model string, progress func(PullProgress)) error {
	body, err := json.Marshal(map[string]interface{}{"name": model, "stream": true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue // tolerate partial lines
		}
		if progress != nil {
			progress(p)
		}
		if p.Status == "success" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("pull stream failed: %w", err)
	}
	return fmt.Errorf("pull stream ended without success status")
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
