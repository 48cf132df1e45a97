package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"

	ProviderOpenAI = "openai"
	ProviderZAI    = "zai"
)

// classifyHeadroom is the write budget kept for the lookup and history append
// that follow classification.
const classifyHeadroom = 15 * time.Second

// DefaultDenylist holds classifier categories that carry no searchable meaning.
var DefaultDenylist = []string{"artifact", "drawing", "illustration", "pattern", "texture", "abstract", "graphic"}

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port     string
	LogLevel string
	LogJSON  bool

	HistoryBackend string
	HistoryCap     int
	Database       string
	RedisURL       string
	RedisPrefix    string

	WikiAPIBase    string
	WikiSearchBase string
	WikiRatePerSec float64
	WikiCacheSize  int

	VisionProvider string
	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string
	ZAIKey         string
	ZAIBaseURL     string
	ZAIModel       string

	MinConfidence     float64
	LabelDenylist     []string
	PopupDismissAfter time.Duration
	MaxUploadBytes    int64
	ClassifyTimeout   time.Duration
	WriteTimeout      time.Duration

	// Warnings collects values that were rejected in favour of defaults.
	Warnings []string
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() Config {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		HistoryBackend: strings.ToLower(getEnv("HISTORY_BACKEND", BackendSQLite)),
		Database:       getEnv("DATABASE_PATH", "./data/history.db"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:    getEnv("REDIS_PREFIX", "wikiseek:history"),
		WikiAPIBase:    getEnv("WIKI_API_BASE", "https://en.wikipedia.org/api/rest_v1"),
		WikiSearchBase: getEnv("WIKI_SEARCH_BASE", "https://en.wikipedia.org/wiki/Special:Search"),
		VisionProvider: strings.ToLower(getEnv("VISION_PROVIDER", ProviderOpenAI)),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint: getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ZAIKey:         os.Getenv("Z_AI_API_KEY"),
		ZAIBaseURL:     getEnv("Z_AI_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/"),
		ZAIModel:       getEnv("Z_AI_VISION_MODEL", "glm-4.5v"),
		LabelDenylist:  DefaultDenylist,
	}

	cfg.LogJSON = !cfg.getBool("LOG_PRETTY", false)
	cfg.HistoryCap = cfg.getInt("HISTORY_CAP", 5)
	cfg.WikiRatePerSec = cfg.getFloat("WIKI_RATE_PER_SEC", 5)
	cfg.WikiCacheSize = cfg.getInt("WIKI_CACHE_SIZE", 256)
	cfg.MinConfidence = cfg.getFloat("MIN_CONFIDENCE", 0.30)
	cfg.PopupDismissAfter = cfg.getDuration("POPUP_DISMISS_AFTER", 3*time.Second)
	cfg.MaxUploadBytes = int64(cfg.getInt("MAX_UPLOAD_BYTES", 8<<20))
	cfg.ClassifyTimeout = cfg.getDuration("CLASSIFY_TIMEOUT", 45*time.Second)
	cfg.WriteTimeout = cfg.getDuration("HTTP_WRITE_TIMEOUT", 90*time.Second)

	if raw := getEnv("LABEL_DENYLIST", ""); raw != "" {
		cfg.LabelDenylist = splitList(raw)
	}

	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		cfg.warn("MIN_CONFIDENCE %v outside [0,1], using 0.30", cfg.MinConfidence)
		cfg.MinConfidence = 0.30
	}
	// a synchronous image search must answer before the server drops the response
	if cfg.ClassifyTimeout+classifyHeadroom > cfg.WriteTimeout {
		limit := cfg.WriteTimeout / 2
		cfg.warn("CLASSIFY_TIMEOUT %s leaves no room inside HTTP_WRITE_TIMEOUT %s, using %s", cfg.ClassifyTimeout, cfg.WriteTimeout, limit)
		cfg.ClassifyTimeout = limit
	}
	if cfg.HistoryCap <= 0 {
		cfg.warn("HISTORY_CAP must be positive, using 5")
		cfg.HistoryCap = 5
	}
	switch cfg.HistoryBackend {
	case BackendSQLite, BackendMemory, BackendRedis:
	default:
		cfg.warn("unknown HISTORY_BACKEND %q, using %s", cfg.HistoryBackend, BackendSQLite)
		cfg.HistoryBackend = BackendSQLite
	}
	switch cfg.VisionProvider {
	case ProviderOpenAI, ProviderZAI:
	default:
		cfg.warn("unknown VISION_PROVIDER %q, using %s", cfg.VisionProvider, ProviderOpenAI)
		cfg.VisionProvider = ProviderOpenAI
	}

	return cfg
}

// EnsureDirs creates the directories the configured backends write into.
func (c Config) EnsureDirs() error {
	if c.HistoryBackend != BackendSQLite {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Database), 0o755); err != nil {
		return fmt.Errorf("ensure database dir %s: %w", c.Database, err)
	}
	return nil
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.warn("invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func (c *Config) getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.warn("invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return v
}

func (c *Config) getBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		c.warn("invalid %s=%q, using %t", key, raw, fallback)
		return fallback
	}
	return v
}

func (c *Config) getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		c.warn("invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
