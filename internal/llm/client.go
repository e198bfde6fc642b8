// Package llm is the engine's only boundary to language models. It
// speaks to chat-completion style APIs (OpenAI-compatible, Anthropic)
// or to a workflow webhook that fronts the model; agents cannot tell
// the backends apart.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTemperature is the fixed sampling temperature for agent calls.
const DefaultTemperature = 0.7

// DefaultMaxTokens caps the completion length.
const DefaultMaxTokens = 1000

// DefaultTimeout bounds a single provider call. A stuck call must not
// stall an agent's batch slot indefinitely.
const DefaultTimeout = 60 * time.Second

// Request carries everything a provider needs for one completion.
type Request struct {
	Agent          string         `json:"agent_name"`
	Specialization string         `json:"agent_specialization"`
	System         string         `json:"system_prompt"`
	Prompt         string         `json:"user_prompt"`
	Context        map[string]any `json:"context,omitempty"`
	Model          string         `json:"model,omitempty"`
}

// Completer produces a text completion for a request. An empty
// completion is a failure, never a valid empty answer.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and parameterizes the provider backend.
type Config struct {
	Kind        string // openai, anthropic, webhook
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client implements Completer over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates a provider client, applying defaults for unset tunables.
func New(cfg Config) *Client {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Complete dispatches to the configured backend.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	var text string
	var err error
	switch c.cfg.Kind {
	case "anthropic":
		text, err = c.callAnthropic(ctx, req)
	case "webhook":
		text, err = c.callWebhook(ctx, req)
	default:
		// Generic OpenAI-compatible endpoint
		text, err = c.callOpenAI(ctx, req)
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%s: empty completion", c.cfg.Kind)
	}
	return text, nil
}

// userContent renders the prompt plus the optional structured context.
func userContent(req Request) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	ctxJSON, err := json.Marshal(req.Context)
	if err != nil {
		return req.Prompt
	}
	return req.Prompt + "\n\nContext:\n" + string(ctxJSON)
}

// ── OpenAI-compatible Provider ──────────────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) callOpenAI(ctx context.Context, req Request) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("openai: api key not configured")
	}

	body, _ := json.Marshal(openAIRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: userContent(req)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", nil
	}
	return oaiResp.Choices[0].Message.Content, nil
}

// ── Anthropic Provider ──────────────────────────────────────

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) callAnthropic(ctx context.Context, req Request) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("anthropic: api key not configured")
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: userContent(req)}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}

	text := ""
	for _, part := range anthResp.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}
	return text, nil
}

// ── Webhook Forwarder ───────────────────────────────────────
//
// Alternate execution path: the request is forwarded as-is to a
// workflow-automation webhook that owns the model call. The webhook
// must answer {"result": "..."} with the completion text.

type webhookRequest struct {
	Request
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type webhookResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) callWebhook(ctx context.Context, req Request) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", fmt.Errorf("webhook: endpoint not configured")
	}

	body, _ := json.Marshal(webhookRequest{
		Request:     req,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("webhook: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("webhook: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("webhook: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var whResp webhookResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&whResp); err != nil {
		return "", fmt.Errorf("webhook: decode response: %w", err)
	}
	if whResp.Error != "" {
		return "", fmt.Errorf("webhook: %s", whResp.Error)
	}
	return whResp.Result, nil
}
