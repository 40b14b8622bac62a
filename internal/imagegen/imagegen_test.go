package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func TestDimensions(t *testing.T) {
	cases := []struct {
		in     string
		aspect string
		w, h   int
	}{
		{"1:1", "1:1", 1024, 1024},
		{"9:16", "9:16", 1024, 1820},
		{"4:5", "4:5", 1024, 1280},
		{"", "4:5", 1024, 1280},
		{"16:9", "4:5", 1024, 1280},
	}
	for _, tc := range cases {
		aspect, w, h := Dimensions(tc.in)
		if aspect != tc.aspect || w != tc.w || h != tc.h {
			t.Fatalf("Dimensions(%q) = %s %dx%d, want %s %dx%d", tc.in, aspect, w, h, tc.aspect, tc.w, tc.h)
		}
	}
}

func TestPickStyle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if got := PickStyle("LAB", rng); got.Key != "lab" {
		t.Fatalf("PickStyle(LAB) = %s, want lab", got.Key)
	}
	got := PickStyle("unknown", rng)
	found := false
	for _, s := range Styles {
		if s.Key == got.Key {
			found = true
		}
	}
	if !found {
		t.Fatalf("PickStyle(unknown) = %s, not in pool", got.Key)
	}
}

func TestBuildPromptIsBilingual(t *testing.T) {
	p := BuildPrompt("FleXa", Styles[0], "膝盖不再卡卡的\n第二行")
	for _, want := range []string{"FleXa", "reference image", "参考图", "膝盖不再卡卡的"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q: %s", want, p)
		}
	}
}

func TestPlaceholderURL(t *testing.T) {
	if got := PlaceholderURL(42, 1024, 1280); got != "https://picsum.photos/seed/42/1024/1280" {
		t.Fatalf("PlaceholderURL = %s", got)
	}
}

func TestFalProviderParsesImagesArray(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Key fk" {
			t.Fatalf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"images":[{"url":"https://fal.media/a.png"}]}`))
	}))
	defer srv.Close()

	p := NewFalProvider("fk", srv.URL, srv.Client())
	res, err := p.Generate(context.Background(), Request{Prompt: "x", Width: 1024, Height: 1820, Seed: 7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.URL != "https://fal.media/a.png" {
		t.Fatalf("URL = %s", res.URL)
	}
	size := body["image_size"].(map[string]any)
	if size["height"] != float64(1820) {
		t.Fatalf("image_size = %v", size)
	}
}

func TestFalProviderNoImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewFalProvider("fk", srv.URL, srv.Client())
	if _, err := p.Generate(context.Background(), Request{}); err != ErrNoImage {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestStabilityProviderReturnsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("output_format") != "png" || r.FormValue("aspect_ratio") != "9:16" {
			t.Fatalf("form = %v", r.MultipartForm.Value)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	p := NewStabilityProvider("sk", srv.URL, srv.Client())
	res, err := p.Generate(context.Background(), Request{Prompt: "x", Aspect: "9:16", Seed: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(res.Data) != "PNGDATA" || res.ContentType != "image/png" {
		t.Fatalf("Generate = %+v", res)
	}
}

func TestStabilityProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errors":["bad key"]}`)
	}))
	defer srv.Close()

	p := NewStabilityProvider("sk", srv.URL, srv.Client())
	if _, err := p.Generate(context.Background(), Request{}); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want status error", err)
	}
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestComposeProducesSizedImageAndThumb(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "airvo.png"), solidPNG(t, 40, 80, color.White), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	c := NewComposer(dir, "", nil)
	out, err := c.Compose(solidPNG(t, 300, 300, color.Black), "AirVo", "鼻塞一整晚", 200, 250, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	full, err := imaging.Decode(bytes.NewReader(out.Image))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if b := full.Bounds(); b.Dx() != 200 || b.Dy() != 250 {
		t.Fatalf("image size = %dx%d, want 200x250", b.Dx(), b.Dy())
	}
	thumb, err := imaging.Decode(bytes.NewReader(out.Thumb))
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if b := thumb.Bounds(); b.Dx() != ThumbSize || b.Dy() != ThumbSize {
		t.Fatalf("thumb size = %dx%d, want %dx%d", b.Dx(), b.Dy(), ThumbSize, ThumbSize)
	}

	// Some pixel in the lower part must come from the white product asset.
	nrgba := imaging.Clone(full)
	white := false
	for y := 125; y < 250 && !white; y++ {
		for x := 0; x < 200; x++ {
			if r, g, b, _ := nrgba.At(x, y).RGBA(); r > 0xf000 && g > 0xf000 && b > 0xf000 {
				white = true
				break
			}
		}
	}
	if !white {
		t.Fatalf("product asset not composited")
	}
}

func TestComposerLoadDataURL(t *testing.T) {
	c := NewComposer("", "", nil)
	got, err := c.Load(context.Background(), &Result{URL: "data:image/png;base64,aGVsbG8="})
	if err != nil || string(got) != "hello" {
		t.Fatalf("Load = %q, %v", got, err)
	}
}
