// Package llm talks to an OpenAI-compatible chat-completions endpoint.
package llm

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
)

var (
	ErrMissingAPIKey = errors.New("missing LLM API key")
	ErrTimeout       = errors.New("llm request timed out")
)

// UpstreamError carries a non-2xx response from the model provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm upstream error: status=%d body=%s", e.Status, e.Body)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages         []Message
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	MaxTokens        int
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Model   string
	Content string
	Usage   Usage
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client. Timeouts come from the caller's context.
func NewClient(cfg Config, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpClient,
		log:        log,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat-completion request and returns the first choice.
func (c *Client) Complete(ctx context.Context, in Request) (*Completion, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	payload := map[string]any{
		"model":    c.model,
		"messages": in.Messages,
	}
	if in.Temperature > 0 {
		payload["temperature"] = clamp(in.Temperature, 0, 2)
	}
	if in.TopP > 0 {
		payload["top_p"] = clamp(in.TopP, 0, 1)
	}
	if in.FrequencyPenalty != 0 {
		payload["frequency_penalty"] = clamp(in.FrequencyPenalty, -2, 2)
	}
	if in.MaxTokens > 0 {
		payload["max_tokens"] = in.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("post chat completion: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("llm completion failed", "status", resp.StatusCode, "model", c.model, "body", truncateBody(rawBody))
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Body: truncateBody(rawBody)}
	}

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(rawBody, &out); err != nil {
		return nil, fmt.Errorf("decode completion: %w (body=%s)", err, truncateBody(rawBody))
	}

	completion := &Completion{Model: out.Model, Usage: out.Usage}
	if completion.Model == "" {
		completion.Model = c.model
	}
	if len(out.Choices) > 0 {
		completion.Content = out.Choices[0].Message.Content
	}
	if c.log != nil {
		c.log.Debug("llm completion", "model", completion.Model, "total_tokens", out.Usage.TotalTokens)
	}
	return completion, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
