package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

const defaultStabilityURL = "https://api.stability.ai/v2beta/stable-image/generate/core"

type StabilityProvider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewStabilityProvider(apiKey, endpoint string, httpClient *http.Client) *StabilityProvider {
	if endpoint == "" {
		endpoint = defaultStabilityURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &StabilityProvider{apiKey: apiKey, endpoint: endpoint, httpClient: httpClient}
}

func (p *StabilityProvider) Name() string { return "stability" }

func (p *StabilityProvider) Generate(ctx context.Context, in Request) (*Result, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"prompt":        in.Prompt,
		"output_format": "png",
		"aspect_ratio":  in.Aspect,
		"seed":          strconv.FormatInt(in.Seed%4294967295, 10),
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "image/*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post stability: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read stability response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stability error: status=%d body=%s", resp.StatusCode, truncate(raw))
	}
	if len(raw) == 0 {
		return nil, ErrNoImage
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &Result{Data: raw, ContentType: contentType}, nil
}
