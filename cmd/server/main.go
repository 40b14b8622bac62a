package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/digkill/CaptionStudio/internal/billing"
	"github.com/digkill/CaptionStudio/internal/config"
	"github.com/digkill/CaptionStudio/internal/database"
	"github.com/digkill/CaptionStudio/internal/history"
	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/imagegen"
	"github.com/digkill/CaptionStudio/internal/kie"
	"github.com/digkill/CaptionStudio/internal/knowledge"
	"github.com/digkill/CaptionStudio/internal/ledger"
	"github.com/digkill/CaptionStudio/internal/llm"
	"github.com/digkill/CaptionStudio/internal/repository"
	"github.com/digkill/CaptionStudio/internal/server"
	"github.com/digkill/CaptionStudio/internal/service"
	"github.com/digkill/CaptionStudio/internal/storage"
	"github.com/digkill/CaptionStudio/internal/telegram"
	"github.com/digkill/CaptionStudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	led, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	defer closeLedger()

	prefixes, closeHistory, err := openHistory(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	defer closeHistory()

	directory := identity.NewAdminClient(identity.AdminConfig{
		URL:        cfg.SupabaseURL,
		ServiceKey: cfg.SupabaseServiceKey,
	}, nil, logr)
	if !directory.Configured() {
		logr.Warn("supabase admin API not configured; account endpoints will fail")
	}

	var sessions server.SessionVerifier
	verifier, err := identity.NewVerifier(ctx, identity.VerifierConfig{
		SupabaseURL: cfg.SupabaseURL,
		JWTSecret:   cfg.SupabaseJWTSecret,
	})
	if err != nil {
		logr.Warn("session verification disabled", "err", err)
	} else {
		sessions = verifier
	}

	var gateway billing.Gateway
	if gw := billing.NewStripeGateway(cfg.StripeSecretKey, nil); gw != nil {
		gateway = gw
	} else {
		logr.Warn("stripe not configured; billing endpoints will fail")
	}

	notifier, err := telegram.New(telegram.Config{Token: cfg.TelegramBotToken, ChatID: cfg.TelegramAdminChatID}, logr)
	if err != nil {
		logr.Warn("telegram notifier disabled", "err", err)
		notifier = telegram.Nop{}
	}

	store, generatedDir, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	buckets := service.NewBuckets(gateway)
	completer := llm.NewClient(llm.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	}, nil, logr)

	captions := service.NewCaptionService(service.CaptionConfig{
		Timeout:        cfg.LLMTimeout,
		QuickTimeout:   cfg.LLMQuickTimeout,
		SLAFallback:    cfg.CaptionSLAFallback,
		InputUSDPer1K:  cfg.InputUSDPer1K,
		OutputUSDPer1K: cfg.OutputUSDPer1K,
	}, logr, knowledge.MustLoad(), completer, led, prefixes, buckets)

	images := service.NewImageService(service.ImageConfig{
		Providers:    cfg.ImageProviders,
		MonthlyLimit: cfg.ImageMonthlyLimit,
		Timeout:      cfg.ImageTimeout,
		AssetBaseURL: cfg.ProductAssetBaseURL,
	}, logr, imageProviders(cfg, logr), imagegen.NewComposer(cfg.AssetsDir, cfg.ImageFontPath, nil), store, led, buckets)

	srv := server.NewServer(cfg, logr, server.Services{
		Sessions:   sessions,
		Directory:  directory,
		Captions:   captions,
		Images:     images,
		Users:      service.NewUserService(logr, directory, gateway, cfg.ShortlinkSecret),
		Activation: service.NewActivationService(service.ActivationConfig{TrialPolicy: cfg.TrialPolicy, TrialWindow: cfg.TrialWindow}, logr, directory, gateway, notifier),
		Usage:      service.NewUsageService(led, cfg.InputUSDPer1K, cfg.OutputUSDPer1K),
	}, generatedDir)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}

func openLedger(ctx context.Context, cfg config.Config) (service.Ledger, func(), error) {
	if cfg.LedgerBackend != "mysql" {
		f, err := ledger.NewFile(cfg.DataDir)
		return f, func() {}, err
	}
	db, err := database.Connect(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewLedger(db), func() { db.Close() }, nil
}

func openHistory(ctx context.Context, cfg config.Config, logr *slog.Logger) (history.Store, func(), error) {
	if cfg.RedisURL == "" {
		return history.NewMemory(10000), func() {}, nil
	}
	r, err := history.NewRedisFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logr.Info("opening-prefix history in redis")
	return r, closer(r, logr), nil
}

func openStorage(cfg config.Config) (storage.Store, string, error) {
	if cfg.StorageBackend == "s3" {
		s, err := storage.NewS3Store(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		return s, "", err
	}
	s, err := storage.NewLocalStore(filepath.Join(cfg.DataDir, "generated"), cfg.PublicURL+"/generated")
	if err != nil {
		return nil, "", err
	}
	return s, s.Dir(), nil
}

// imageProviders returns the providers that have credentials.
func imageProviders(cfg config.Config, logr *slog.Logger) map[string]imagegen.Provider {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	out := map[string]imagegen.Provider{}
	if kc := kie.NewClient(kie.Config{APIKey: cfg.KIEAPIKey, BaseURL: cfg.KIEBaseURL}, nil, logr); kc.Configured() {
		out["kie"] = imagegen.NewKIEProvider(kc)
	}
	if cfg.FalAPIKey != "" {
		out["fal"] = imagegen.NewFalProvider(cfg.FalAPIKey, "", httpClient)
	}
	if cfg.StabilityAPIKey != "" {
		out["stability"] = imagegen.NewStabilityProvider(cfg.StabilityAPIKey, "", httpClient)
	}
	return out
}

func closer(c io.Closer, logr *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logr.Warn("close", "err", err)
		}
	}
}
