// Package llmclient implements interfaces.LLMClient for the PTY-less
// "agent" TerminalSession type (spec.md §4.10's "... or direct LLM"
// branch), talking straight to an OpenAI- or Anthropic-shaped chat
// endpoint over net/http. Structurally grounded on
// internal/llm/{openai,anthropic}.go's provider-per-vendor split, but
// narrowed to the single Complete(prompt, history) round trip
// interfaces.LLMClient needs — no tool-calling, since the agent session
// type has no executor to dispatch tool calls to.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/echoshell-dev/echoshell/internal/interfaces"
)

const defaultTimeout = 60 * time.Second

// Client routes Complete calls to AGENT_PROVIDER's API (spec.md §6).
// The Anthropic API is picked when Provider == "anthropic" (or Model
// starts with "claude-" and Provider is unset); everything else is
// treated as an OpenAI-chat-completions-compatible endpoint, so a
// self-hosted gateway reachable via AGENT_BASE_URL works the same way
// OpenAI itself does.
type Client struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64

	httpClient *http.Client
}

// New builds a Client with a bounded HTTP timeout.
func New(provider, apiKey, model, baseURL string, temperature float64) *Client {
	return &Client{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       model,
		BaseURL:     baseURL,
		Temperature: temperature,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) isAnthropic() bool {
	if c.Provider != "" {
		return c.Provider == "anthropic"
	}
	return strings.HasPrefix(c.Model, "claude-")
}

// Complete implements interfaces.LLMClient.
func (c *Client) Complete(ctx context.Context, prompt string, history []interfaces.Turn) (string, error) {
	if c.isAnthropic() {
		return c.completeAnthropic(ctx, prompt, history)
	}
	return c.completeOpenAI(ctx, prompt, history)
}

func (c *Client) model(fallback string) string {
	if c.Model != "" {
		return c.Model
	}
	return fallback
}

// --- OpenAI-compatible ---

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Temperature float64          `json:"temperature,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string, history []interfaces.Turn) (string, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	messages := make([]openaiMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, openaiMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: prompt})

	reqBody := openaiChatRequest{
		Model:       c.model("gpt-4o-mini"),
		Messages:    messages,
		Temperature: c.Temperature,
	}

	body, err := c.post(ctx, strings.TrimRight(baseURL, "/")+"/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + c.APIKey,
	})
	if err != nil {
		return "", err
	}

	var resp openaiChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Anthropic ---

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Messages    []anthropicMessage  `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string, history []interfaces.Turn) (string, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	messages := make([]anthropicMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, anthropicMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, anthropicMessage{Role: "user", Content: prompt})

	reqBody := anthropicRequest{
		Model:       c.model("claude-3-5-sonnet-latest"),
		MaxTokens:   4096,
		Messages:    messages,
		Temperature: c.Temperature,
	}

	body, err := c.post(ctx, strings.TrimRight(baseURL, "/")+"/v1/messages", reqBody, map[string]string{
		"x-api-key":         c.APIKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic response had no text block")
}

func (c *Client) post(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, respBody)
	}
	return respBody, nil
}
