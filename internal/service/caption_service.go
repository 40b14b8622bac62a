package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/digkill/CaptionStudio/internal/caption"
	"github.com/digkill/CaptionStudio/internal/history"
	"github.com/digkill/CaptionStudio/internal/knowledge"
	"github.com/digkill/CaptionStudio/internal/llm"
	"github.com/digkill/CaptionStudio/internal/models"
)

const (
	SourceModel = "llm"
	SourceQuick = "quick"
	SourceLocal = "local"
)

// ErrEmptyCompletion means the model answered without any caption text.
var ErrEmptyCompletion = errors.New("model returned an empty caption")

type CaptionConfig struct {
	Timeout        time.Duration
	QuickTimeout   time.Duration
	SLAFallback    bool
	InputUSDPer1K  float64
	OutputUSDPer1K float64
}

type CaptionService struct {
	cfg     CaptionConfig
	log     *slog.Logger
	kb      *knowledge.Base
	llm     Completer
	ledger  Ledger
	history history.Store
	buckets *Buckets
	rand    func() *rand.Rand
}

type CaptionRequest struct {
	Product            string
	Platform           string
	Style              string
	BanOpeningPrefixes []string
	BanRecentStyles    []string
	// Email is empty for anonymous callers.
	Email string
}

type CaptionResult struct {
	Caption       string
	OpeningPrefix string
	Product       string
	Style         caption.Style
	Platform      caption.Platform
	Source        string
}

// NewCaptionService wires the pipeline. ledger, store and buckets may be nil.
func NewCaptionService(cfg CaptionConfig, log *slog.Logger, kb *knowledge.Base, completer Completer, ledger Ledger, store history.Store, buckets *Buckets) *CaptionService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.QuickTimeout <= 0 {
		cfg.QuickTimeout = 8 * time.Second
	}
	return &CaptionService{
		cfg:     cfg,
		log:     log,
		kb:      kb,
		llm:     completer,
		ledger:  ledger,
		history: store,
		buckets: buckets,
		rand:    newRand,
	}
}

func (s *CaptionService) Generate(ctx context.Context, req CaptionRequest) (*CaptionResult, error) {
	rng := s.rand()
	email := normalizeEmail(req.Email)

	product, _ := caption.NormalizeProduct(req.Product)
	profile := caption.ProfileFor(req.Platform)
	style := caption.PickStyle(caption.ParseStyle(req.Style), req.BanRecentStyles, rng)
	banned := s.bannedPrefixes(ctx, email, req.BanOpeningPrefixes)

	in := caption.PromptInput{
		Product: product,
		Profile: profile,
		Style:   style,
		Opening: caption.PickOpening(style, "", rng),
		Facts:   s.kb.Sample(product, rng),
		Banned:  banned,
	}

	text, source, err := s.firstDraft(ctx, in, email)
	if err != nil {
		return nil, err
	}

	prefix := caption.Fingerprint(text)
	if source == SourceModel && caption.NeedsRetry(prefix, banned) {
		retry := in
		retry.Opening = caption.PickOpening(style, in.Opening.Schema, rng)
		second, err := s.complete(ctx, retry, email, s.cfg.Timeout, false)
		switch {
		case err != nil:
			s.log.Warn("caption retry failed, keeping first draft", "err", err, "product", product)
		case second != "":
			text = second
			prefix = caption.Fingerprint(text)
		}
	}

	s.afterGenerate(ctx, email, prefix)

	return &CaptionResult{
		Caption:       text,
		OpeningPrefix: prefix,
		Product:       product,
		Style:         style,
		Platform:      profile.Platform,
		Source:        source,
	}, nil
}

// firstDraft runs the main call and, when enabled, the SLA fallback chain.
func (s *CaptionService) firstDraft(ctx context.Context, in caption.PromptInput, email string) (string, string, error) {
	text, err := s.complete(ctx, in, email, s.cfg.Timeout, false)
	if errors.Is(err, ErrEmptyCompletion) {
		s.log.Warn("empty caption from model, asking again", "product", in.Product)
		text, err = s.complete(ctx, in, email, s.cfg.Timeout, false)
		if errors.Is(err, ErrEmptyCompletion) {
			s.log.Warn("model returned empty captions twice, using local template", "product", in.Product)
			return caption.LocalCaption(in.Product, in.Facts, in.Profile, in.Style), SourceLocal, nil
		}
	}
	if err == nil {
		return text, SourceModel, nil
	}
	if !errors.Is(err, llm.ErrTimeout) || !s.cfg.SLAFallback {
		return "", "", err
	}

	s.log.Warn("caption timed out, trying quick prompt", "product", in.Product)
	text, err = s.complete(ctx, in, email, s.cfg.QuickTimeout, true)
	if err == nil && text != "" {
		return text, SourceQuick, nil
	}
	s.log.Warn("quick caption failed, using local template", "err", err, "product", in.Product)
	return caption.LocalCaption(in.Product, in.Facts, in.Profile, in.Style), SourceLocal, nil
}

func (s *CaptionService) complete(ctx context.Context, in caption.PromptInput, email string, timeout time.Duration, quick bool) (string, error) {
	build := caption.BuildPrompt
	maxTokens := 700
	if quick {
		build = caption.BuildQuickPrompt
		maxTokens = 300
	}
	prompt, err := build(in)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := s.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature:      0.9,
		TopP:             0.95,
		FrequencyPenalty: 0.4,
		MaxTokens:        maxTokens,
	})
	if err != nil {
		return "", err
	}
	s.recordCost(ctx, resp, email)

	captions := caption.ParseCaptions(resp.Content)
	if len(captions) == 0 || strings.TrimSpace(captions[0]) == "" {
		return "", ErrEmptyCompletion
	}
	return captions[0], nil
}

// bannedPrefixes merges the client's openings, which arrive oldest first, with
// the stored history.
func (s *CaptionService) bannedPrefixes(ctx context.Context, email string, client []string) []string {
	cleaned := make([]string, 0, history.Limit)
	for i := len(client) - 1; i >= 0 && len(cleaned) < history.Limit; i-- {
		if p := strings.TrimSpace(client[i]); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if email == "" || s.history == nil {
		return history.Merge(cleaned)
	}
	stored, err := s.history.Recent(ctx, email)
	if err != nil {
		s.log.Warn("load opening history", "err", err)
		return cleaned
	}
	return history.Merge(cleaned, stored)
}

func (s *CaptionService) recordCost(ctx context.Context, resp *llm.Completion, email string) {
	if s.ledger == nil {
		return
	}
	u := resp.Usage
	sample := models.CostSample{
		Model:            resp.Model,
		User:             email,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CostUSD:          CallCost(u.PromptTokens, u.CompletionTokens, s.cfg.InputUSDPer1K, s.cfg.OutputUSDPer1K),
	}
	if sample.TotalTokens == 0 {
		sample.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if err := s.ledger.RecordCost(context.WithoutCancel(ctx), sample); err != nil {
		s.log.Error("record cost sample", "err", err)
	}
}

func (s *CaptionService) afterGenerate(ctx context.Context, email, prefix string) {
	if email == "" {
		return
	}
	if s.history != nil && prefix != "" {
		if err := s.history.Push(ctx, email, prefix); err != nil {
			s.log.Warn("push opening history", "err", err)
		}
	}
	if s.ledger != nil && s.buckets != nil {
		bucket := s.buckets.Key(ctx, email)
		if _, err := s.ledger.IncrementUsage(ctx, bucket, email, models.UsageCaption); err != nil {
			s.log.Error("increment caption usage", "err", err, "bucket", bucket)
		}
	}
}

// CallCost prices one completion from per-1K token rates.
func CallCost(promptTokens, completionTokens int, inPer1K, outPer1K float64) float64 {
	return float64(promptTokens)/1000*inPer1K + float64(completionTokens)/1000*outPer1K
}
