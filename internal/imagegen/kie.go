package imagegen

import (
	"context"

	"github.com/digkill/CaptionStudio/internal/kie"
)

// KIEProvider adapts the KIE job client. It is the only provider that takes the
// product reference image, so the bottle in the output matches the real one.
type KIEProvider struct {
	client *kie.Client
}

func NewKIEProvider(client *kie.Client) *KIEProvider {
	return &KIEProvider{client: client}
}

func (p *KIEProvider) Name() string { return "kie" }

func (p *KIEProvider) Generate(ctx context.Context, in Request) (*Result, error) {
	img, err := p.client.GenerateNanoBanana(ctx, kie.GenerateOptions{
		Prompt:      in.Prompt,
		AspectRatio: in.Aspect,
		InputURLs:   in.ReferenceURLs,
	})
	if err != nil {
		return nil, err
	}
	if img.URL == "" {
		return nil, ErrNoImage
	}
	return &Result{URL: img.URL}, nil
}
