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

const (
	openRouterBaseURL        = "https://openrouter.ai/api/v1"
	defaultOpenRouterTimeout = 60 * time.Second
)

// OpenRouterClient generates completions through the OpenRouter chat
// completions API.
type OpenRouterClient struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	referer    string
	title      string
}

// NewOpenRouterClient creates an OpenRouter client with the given API key.
func NewOpenRouterClient(apiKey, model string, timeout time.Duration) *OpenRouterClient {
	if timeout <= 0 {
		timeout = defaultOpenRouterTimeout
	}
	return &OpenRouterClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: openRouterBaseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: 0, // per-request contexts carry the deadline
		},
		referer: "https://github.com/malcolmiscalm/tubequery",
		title:   "tubequery",
	}
}

// NewOpenRouterClientWithBaseURL creates a client pointing at a custom base
// URL (for testing).
func NewOpenRouterClientWithBaseURL(apiKey, model, baseURL string, timeout time.Duration) *OpenRouterClient {
	c := NewOpenRouterClient(apiKey, model, timeout)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message and returns the
// completion. One upstream call, no retries; a 429 surfaces as an error for
// the caller to handle.
func (c *OpenRouterClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyOutput
	}
	return result.Choices[0].Message.Content, nil
}
