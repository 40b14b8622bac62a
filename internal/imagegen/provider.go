// Package imagegen renders product ad images through external providers and
// post-processes them into a composited final image plus a thumbnail.
package imagegen

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoImage = errors.New("provider returned no image")

// Request is what every provider receives.
type Request struct {
	Prompt        string
	Aspect        string
	Width         int
	Height        int
	Seed          int64
	ReferenceURLs []string
}

// Result holds either a remote URL or inline bytes.
type Result struct {
	URL         string
	Data        []byte
	ContentType string
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// PlaceholderURL is the deterministic stand-in used when every provider fails.
func PlaceholderURL(seed int64, width, height int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%d/%d/%d", seed, width, height)
}
