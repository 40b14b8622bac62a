package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

const (
	ThumbSize    = 256
	maxFetchSize = 20 << 20
)

// Composer overlays the real product shot and a caption line onto a generated
// background, then renders a thumbnail.
type Composer struct {
	assetsDir  string
	fontPath   string
	httpClient *http.Client
}

func NewComposer(assetsDir, fontPath string, httpClient *http.Client) *Composer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Composer{assetsDir: assetsDir, fontPath: fontPath, httpClient: httpClient}
}

type Composite struct {
	Image []byte
	Thumb []byte
}

// Load returns the raw bytes of a provider result, downloading or decoding data
// URLs as needed.
func (c *Composer) Load(ctx context.Context, res *Result) ([]byte, error) {
	if len(res.Data) > 0 {
		return res.Data, nil
	}
	if strings.HasPrefix(res.URL, "data:") {
		comma := strings.IndexByte(res.URL, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		return base64.StdEncoding.DecodeString(res.URL[comma+1:])
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch image: status=%d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
}

// Compose builds the final PNG and a JPEG thumbnail.
func (c *Composer) Compose(base []byte, product, caption string, width, height int, rng *rand.Rand) (*Composite, error) {
	bg, err := imaging.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}
	canvas := imaging.Fill(bg, width, height, imaging.Center, imaging.Lanczos)

	if c.assetsDir != "" {
		asset, err := imaging.Open(filepath.Join(c.assetsDir, strings.ToLower(product)+".png"))
		if err == nil {
			canvas = placeProduct(canvas, asset, rng)
		}
	}

	var final image.Image = canvas
	if snippet := Snippet(caption, 18); snippet != "" && c.fontPath != "" {
		if drawn, err := drawHeadline(canvas, snippet, c.fontPath); err == nil {
			final = drawn
		}
	}

	var full bytes.Buffer
	if err := imaging.Encode(&full, final, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	var thumb bytes.Buffer
	if err := imaging.Encode(&thumb, imaging.Thumbnail(final, ThumbSize, ThumbSize, imaging.Lanczos), imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return &Composite{Image: full.Bytes(), Thumb: thumb.Bytes()}, nil
}

// placeProduct scales the asset to 28–40% of the canvas width and drops it at one
// of three lower anchors with a small jitter.
func placeProduct(canvas *image.NRGBA, asset image.Image, rng *rand.Rand) *image.NRGBA {
	bounds := canvas.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := 0.28 + rng.Float64()*0.12
	product := imaging.Resize(asset, int(float64(w)*scale), 0, imaging.Lanczos)
	pw, ph := product.Bounds().Dx(), product.Bounds().Dy()

	margin := w / 20
	var x int
	switch rng.Intn(3) {
	case 0:
		x = margin
	case 1:
		x = (w - pw) / 2
	default:
		x = w - pw - margin
	}
	y := h - ph - margin
	jitter := w / 33
	if jitter > 0 {
		x += rng.Intn(2*jitter+1) - jitter
		y += rng.Intn(jitter + 1)
	}
	x = clampInt(x, 0, w-pw)
	y = clampInt(y, 0, h-ph)
	return imaging.Overlay(canvas, product, image.Pt(x, y), 1.0)
}

func drawHeadline(img image.Image, text, fontPath string) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	w, h := float64(dc.Width()), float64(dc.Height())
	if err := dc.LoadFontFace(fontPath, w/18); err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	band := h * 0.14
	dc.SetRGBA(0, 0, 0, 0.35)
	dc.DrawRectangle(0, h*0.04, w, band)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringWrapped(text, w/2, h*0.04+band/2, 0.5, 0.5, w*0.86, 1.3, gg.AlignCenter)
	return dc.Image(), nil
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
