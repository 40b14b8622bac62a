// Package kie drives the KIE async job API (create a task, poll until done).
package kie

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
)

const modelNanoBananaPro = "nano-banana-pro"

type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxAttempts  int
}

type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	log          *slog.Logger
}

type GenerateOptions struct {
	Prompt       string
	AspectRatio  string
	Resolution   string
	InputURLs    []string
	OutputFormat string
}

type Image struct {
	URL    string
	TaskID string
}

func NewClient(cfg Config, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		httpClient:   httpClient,
		log:          log,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// GenerateNanoBanana runs an image-to-image job with the product reference
// images passed as image_input.
func (c *Client) GenerateNanoBanana(ctx context.Context, opts GenerateOptions) (*Image, error) {
	format := "png"
	if opts.OutputFormat != "" {
		format = strings.ToLower(opts.OutputFormat)
	}
	resolution := opts.Resolution
	if resolution == "" {
		resolution = "1K"
	}
	input := map[string]any{
		"prompt":        opts.Prompt,
		"aspect_ratio":  opts.AspectRatio,
		"resolution":    resolution,
		"output_format": format,
	}
	if len(opts.InputURLs) > 0 {
		input["image_input"] = opts.InputURLs
	}

	taskID, err := c.createTask(ctx, map[string]any{
		"model": modelNanoBananaPro,
		"input": input,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return c.pollTaskStatus(ctx, taskID)
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("kie create task failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("kie task created", "task_id", createResp.Data.TaskID, "model", payload["model"])
	}
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (*Image, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}
		if statusResp.Code != 200 {
			return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch statusResp.Data.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return nil, fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return nil, fmt.Errorf("no resultUrls in result")
			}
			if c.log != nil {
				c.log.Info("kie task completed", "task_id", taskID, "attempt", attempt+1)
			}
			return &Image{URL: result.ResultURLs[0], TaskID: taskID}, nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			return nil, fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return nil, fmt.Errorf("unknown task state: %s", statusResp.Data.State)
		}
	}

	return nil, fmt.Errorf("task timeout after %d attempts", c.maxAttempts)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
