package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultFalURL = "https://fal.run/fal-ai/flux/dev"

type FalProvider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewFalProvider(apiKey, endpoint string, httpClient *http.Client) *FalProvider {
	if endpoint == "" {
		endpoint = defaultFalURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FalProvider{apiKey: apiKey, endpoint: endpoint, httpClient: httpClient}
}

func (p *FalProvider) Name() string { return "fal" }

func (p *FalProvider) Generate(ctx context.Context, in Request) (*Result, error) {
	body, err := json.Marshal(map[string]any{
		"prompt": in.Prompt,
		"image_size": map[string]int{
			"width":  in.Width,
			"height": in.Height,
		},
		"seed":                  in.Seed,
		"num_images":            1,
		"enable_safety_checker": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post fal: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fal response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, truncate(raw))
	}

	var out struct {
		Image  *struct{ URL string } `json:"image"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
		Result *struct {
			Image *struct{ URL string } `json:"image"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fal response: %w", err)
	}

	var url string
	switch {
	case out.Image != nil && out.Image.URL != "":
		url = out.Image.URL
	case len(out.Images) > 0 && out.Images[0].URL != "":
		url = out.Images[0].URL
	case out.Result != nil && out.Result.Image != nil:
		url = out.Result.Image.URL
	}
	if url == "" {
		return nil, ErrNoImage
	}
	return &Result{URL: url}, nil
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
