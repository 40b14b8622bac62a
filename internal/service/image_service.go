package service

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/CaptionStudio/internal/caption"
	"github.com/digkill/CaptionStudio/internal/imagegen"
	"github.com/digkill/CaptionStudio/internal/models"
	"github.com/digkill/CaptionStudio/internal/storage"
)

const ProviderPlaceholder = "placeholder"

// providerOrder is the order "auto" expands to.
var providerOrder = []string{"kie", "fal", "stability"}

// ImageError is a failure with a fixed HTTP status and machine-readable code.
type ImageError struct {
	Status  int
	Code    string
	Message string
	Limit   int
	Used    int
}

func (e *ImageError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

type ImageConfig struct {
	Providers    []string
	MonthlyLimit int
	Timeout      time.Duration
	// AssetBaseURL is the public prefix of the product reference images.
	AssetBaseURL string
}

type ImageService struct {
	cfg      ImageConfig
	log      *slog.Logger
	plan     []imagegen.Provider
	planErr  *ImageError
	composer *imagegen.Composer
	store    storage.Store
	ledger   UsageLedger
	buckets  *Buckets
	rand     func() *rand.Rand
}

type ImageRequest struct {
	Email   string
	Product string
	Caption string
	Style   string
	Aspect  string
	Seed    int64
}

type ImageResult struct {
	ImageURL string `json:"image_url"`
	ThumbURL string `json:"thumb_url"`
	Provider string `json:"provider"`
	Seed     int64  `json:"seed"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Style    string `json:"style"`
	Product  string `json:"product"`
}

// NewImageService builds the provider chain from cfg.Providers. available holds
// the providers that have credentials, keyed by name.
func NewImageService(cfg ImageConfig, log *slog.Logger, available map[string]imagegen.Provider, composer *imagegen.Composer, store storage.Store, ledger UsageLedger, buckets *Buckets) *ImageService {
	if cfg.MonthlyLimit <= 0 {
		cfg.MonthlyLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	s := &ImageService{
		cfg:      cfg,
		log:      log,
		composer: composer,
		store:    store,
		ledger:   ledger,
		buckets:  buckets,
		rand:     newRand,
	}
	s.plan, s.planErr = resolveProviders(cfg.Providers, available, log)
	return s
}

func resolveProviders(names []string, available map[string]imagegen.Provider, log *slog.Logger) ([]imagegen.Provider, *ImageError) {
	if len(names) == 0 {
		names = []string{"auto"}
	}
	var plan []imagegen.Provider
	seen := map[string]bool{}
	add := func(name string) {
		if p, ok := available[name]; ok && !seen[name] {
			seen[name] = true
			plan = append(plan, p)
		}
	}
	for _, name := range names {
		switch name {
		case "auto":
			for _, n := range providerOrder {
				add(n)
			}
		case "kie", "fal", "stability":
			if _, ok := available[name]; !ok {
				return nil, &ImageError{
					Status:  http.StatusInternalServerError,
					Code:    "MISSING_" + strings.ToUpper(name) + "_KEY",
					Message: name + " is listed in IMAGE_PROVIDERS but has no API key",
				}
			}
			add(name)
		default:
			log.Warn("unknown image provider ignored", "provider", name)
		}
	}
	return plan, nil
}

func (s *ImageService) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, &ImageError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED"}
	}
	if s.planErr != nil {
		return nil, s.planErr
	}

	product := caption.DefaultProduct
	if strings.TrimSpace(req.Product) != "" {
		p, ok := caption.NormalizeProduct(req.Product)
		if !ok {
			return nil, &ImageError{Status: http.StatusBadRequest, Code: "INVALID_PRODUCT", Message: req.Product}
		}
		product = p
	}

	bucket := s.buckets.Key(ctx, email)
	used, err := s.ledger.Usage(ctx, bucket, email)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	if used.Images >= s.cfg.MonthlyLimit {
		return nil, &ImageError{
			Status:  http.StatusTooManyRequests,
			Code:    "QUOTA_EXCEEDED",
			Message: "本周期图片额度已用完",
			Limit:   s.cfg.MonthlyLimit,
			Used:    used.Images,
		}
	}

	rng := s.rand()
	aspect, width, height := imagegen.Dimensions(req.Aspect)
	style := imagegen.PickStyle(req.Style, rng)
	seed := req.Seed
	if seed <= 0 {
		seed = randomSeed()
	}

	genReq := imagegen.Request{
		Prompt: imagegen.BuildPrompt(product, style, req.Caption),
		Aspect: aspect,
		Width:  width,
		Height: height,
		Seed:   seed,
	}
	if s.cfg.AssetBaseURL != "" {
		genReq.ReferenceURLs = []string{strings.TrimRight(s.cfg.AssetBaseURL, "/") + "/" + caption.AssetFile(product)}
	}

	out := &ImageResult{
		Seed:    seed,
		Width:   width,
		Height:  height,
		Style:   style.Key,
		Product: product,
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	for _, p := range s.plan {
		res, err := p.Generate(genCtx, genReq)
		if err != nil {
			s.log.Warn("image provider failed", "provider", p.Name(), "err", err)
			continue
		}
		out.Provider = p.Name()
		out.ImageURL, out.ThumbURL = s.finish(genCtx, res, product, req.Caption, width, height, rng)
		if out.ImageURL == "" {
			s.log.Warn("image provider returned nothing usable", "provider", p.Name())
			continue
		}
		if _, err := s.ledger.IncrementUsage(context.WithoutCancel(ctx), bucket, email, models.UsageImage); err != nil {
			s.log.Error("increment image usage", "err", err, "bucket", bucket)
		}
		return out, nil
	}

	out.Provider = ProviderPlaceholder
	out.ImageURL = imagegen.PlaceholderURL(seed, width, height)
	out.ThumbURL = imagegen.PlaceholderURL(seed, imagegen.ThumbSize, imagegen.ThumbSize)
	return out, nil
}

// finish composites and stores the result. Any post-processing failure falls
// back to the provider's own URL.
func (s *ImageService) finish(ctx context.Context, res *imagegen.Result, product, captionText string, width, height int, rng *rand.Rand) (string, string) {
	raw := rawURL(res)
	if s.composer == nil || s.store == nil {
		return raw, raw
	}
	data, err := s.composer.Load(ctx, res)
	if err != nil {
		s.log.Warn("load provider image", "err", err)
		return raw, raw
	}
	comp, err := s.composer.Compose(data, product, captionText, width, height, rng)
	if err != nil {
		s.log.Warn("compose image", "err", err)
		return raw, raw
	}
	imageURL, err := s.store.Save(ctx, comp.Image, "image/png")
	if err != nil {
		s.log.Error("store image", "err", err)
		return raw, raw
	}
	thumbURL, err := s.store.Save(ctx, comp.Thumb, "image/jpeg")
	if err != nil {
		s.log.Error("store thumbnail", "err", err)
		thumbURL = imageURL
	}
	return imageURL, thumbURL
}

func rawURL(res *imagegen.Result) string {
	if res.URL != "" {
		return res.URL
	}
	if len(res.Data) == 0 {
		return ""
	}
	ct := res.ContentType
	if ct == "" {
		ct = "image/png"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(res.Data)
}

func randomSeed() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint32(id[:4]) & 0x7fffffff)
}
