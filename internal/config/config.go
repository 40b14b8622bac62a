package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the HTTP service and its gateways.
type Config struct {
	ListenAddr  string
	LogLevel    string
	PublicURL   string
	WebDir      string
	DataDir     string
	AssetsDir   string
	CORSOrigins []string

	// Identity (Supabase)
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	SessionCookieName  string
	ActiveGate         string

	// Billing (Stripe)
	StripeSecretKey       string
	StripeWebhookSecret   string
	EnableWebhookOverride bool
	WebhookOverrideSecret string
	WebhookTestSecret     string
	TrialPolicy           string
	TrialWindow           time.Duration

	// Admin
	AdminAPIToken   string
	ShortlinkSecret string

	// Caption LLM
	LLMAPIKey          string
	LLMBaseURL         string
	LLMModel           string
	LLMTimeout         time.Duration
	LLMQuickTimeout    time.Duration
	CaptionSLAFallback bool
	InputUSDPer1K      float64
	OutputUSDPer1K     float64

	// Image
	ImageProviders      []string
	ImageMonthlyLimit   int
	ImageTimeout        time.Duration
	ImageFontPath       string
	FalAPIKey           string
	StabilityAPIKey     string
	KIEAPIKey           string
	KIEBaseURL          string
	ProductAssetBaseURL string

	// Storage
	StorageBackend  string
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	// Ledger / history
	LedgerBackend string
	MySQLDSN      string
	RedisURL      string

	// Ops notifications
	TelegramBotToken    string
	TelegramAdminChatID int64
}

// Load reads configuration from environment variables, applying sane defaults.
// Feature keys (LLM, Stripe, Supabase) are optional at boot; each endpoint reports
// its own missing key at request time.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":3000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", ""), "/"),
		WebDir:      os.Getenv("WEB_DIR"),
		DataDir:     getEnv("DATA_DIR", "data"),
		AssetsDir:   getEnv("ASSETS_DIR", filepath.Join("public", "products")),
		CORSOrigins: getList("CORS_ALLOWED_ORIGINS", nil),

		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", os.Getenv("NEXT_PUBLIC_SUPABASE_URL")), "/"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseJWTSecret:  os.Getenv("SUPABASE_JWT_SECRET"),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "sb-access-token"),
		ActiveGate:         strings.ToLower(getEnv("ACTIVE_GATE", "strict")),

		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		EnableWebhookOverride: getBool("ENABLE_WEBHOOK_OVERRIDE", false),
		WebhookOverrideSecret: os.Getenv("WEBHOOK_OVERRIDE_SECRET"),
		WebhookTestSecret:     os.Getenv("WEBHOOK_TEST_SECRET"),
		TrialPolicy:           strings.ToLower(getEnv("TRIAL_POLICY", "none")),
		TrialWindow:           24 * time.Hour * time.Duration(getInt("TRIAL_DAYS", 14)),

		AdminAPIToken:   os.Getenv("ADMIN_API_TOKEN"),
		ShortlinkSecret: os.Getenv("SHORTLINK_SECRET"),

		LLMAPIKey:          getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL:         strings.TrimRight(getEnv("LLM_BASE_URL", "https://api.openai.com/v1"), "/"),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:         time.Second * time.Duration(getInt("LLM_TIMEOUT_SECONDS", 30)),
		LLMQuickTimeout:    time.Second * time.Duration(getInt("LLM_QUICK_TIMEOUT_SECONDS", 8)),
		CaptionSLAFallback: getBool("CAPTION_SLA_FALLBACK", false),
		InputUSDPer1K:      getFloat("DS_INPUT_USD_PER_1K", 0),
		OutputUSDPer1K:     getFloat("DS_OUTPUT_USD_PER_1K", 0),

		ImageProviders:      getList("IMAGE_PROVIDERS", []string{"auto"}),
		ImageMonthlyLimit:   getInt("IMAGE_MONTHLY_LIMIT", 100),
		ImageTimeout:        time.Second * time.Duration(getInt("IMAGE_TIMEOUT_SECONDS", 45)),
		ImageFontPath:       os.Getenv("IMAGE_FONT_PATH"),
		FalAPIKey:           os.Getenv("FAL_KEY"),
		StabilityAPIKey:     os.Getenv("STABILITY_API_KEY"),
		KIEAPIKey:           os.Getenv("KIE_API_KEY"),
		KIEBaseURL:          normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		ProductAssetBaseURL: strings.TrimRight(os.Getenv("PRODUCT_ASSET_BASE_URL"), "/"),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "generated"),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", "file")),
		MySQLDSN:      os.Getenv("MYSQL_DSN"),
		RedisURL:      os.Getenv("REDIS_URL"),

		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID: getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
	}

	var missing []string
	if cfg.LedgerBackend == "mysql" && cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.StorageBackend == "s3" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3Bucket == "" {
			missing = append(missing, "S3_BUCKET")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch cfg.ActiveGate {
	case "strict", "lenient", "off":
	default:
		return Config{}, fmt.Errorf("invalid ACTIVE_GATE %q", cfg.ActiveGate)
	}
	switch cfg.TrialPolicy {
	case "none", "window", "once":
	default:
		return Config{}, fmt.Errorf("invalid TRIAL_POLICY %q", cfg.TrialPolicy)
	}

	return cfg, nil
}

// normalizeKIEBaseURL ensures we always hit the API host. The root kie.ai domain
// returns HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads the first env file found. Running without one is fine:
// containers pass configuration through the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env.local",
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
