package conf

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// Source names for MONITOR_SOURCE
const (
	SourceTelegram = "telegram"
	SourceFeishu   = "feishu"
)

// Config represents application configuration
type Config struct {
	// Runtime environment; "development" enables console logging
	Env      string
	LogLevel string

	API       APIConfig
	Monitor   MonitorConfig
	Telegram  TelegramConfig
	Feishu    FeishuConfig
	Sink      SinkConfig
	Store     StoreConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Keepalive KeepaliveConfig

	// Keywords configuration (loaded from YAML)
	Keywords *KeywordsConfig

	// keywordsErr is reported by Validate; Keywords then holds the defaults
	keywordsErr error
}

// APIConfig contains control API configuration
type APIConfig struct {
	Addr string
}

// MonitorConfig contains stream monitor configuration
type MonitorConfig struct {
	Source    string
	Chats     []domain.ID
	AutoStart bool
}

// TelegramConfig contains Telegram bot configuration
type TelegramConfig struct {
	BotToken string
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// SinkConfig contains workflow webhook configuration
type SinkConfig struct {
	URL     string
	Timeout time.Duration
}

// StoreConfig contains listing store configuration
type StoreConfig struct {
	Driver      string
	SupabaseURL string
	SupabaseKey string
	DatabaseURL string
	SQLitePath  string
}

// RedisConfig contains the optional match claim guard configuration
type RedisConfig struct {
	URL      string
	ClaimTTL time.Duration
}

// LLMConfig contains the optional listing parser configuration
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// KeepaliveConfig contains the monitor keepalive job configuration
type KeepaliveConfig struct {
	// Cron schedule, empty disables the job
	Schedule string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	keywords, keywordsErr := LoadKeywordsConfig(os.Getenv("KEYWORDS_CONFIG_PATH"))
	if keywordsErr != nil {
		keywords = DefaultKeywordsConfig()
	}

	return &Config{
		Env:      envOr("ENV", "production"),
		LogLevel: envOr("LOG_LEVEL", "info"),
		API: APIConfig{
			Addr: envOr("API_ADDR", ":8000"),
		},
		Monitor: MonitorConfig{
			Source:    strings.ToLower(envOr("MONITOR_SOURCE", SourceTelegram)),
			Chats:     parseChats(os.Getenv("MONITOR_CHATS")),
			AutoStart: envBool("AUTO_START", true),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		Sink: SinkConfig{
			URL:     os.Getenv("SINK_URL"),
			Timeout: time.Duration(envInt("SINK_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(envOr("STORE_DRIVER", "rest")),
			SupabaseURL: os.Getenv("SUPABASE_URL"),
			SupabaseKey: os.Getenv("SUPABASE_KEY"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  os.Getenv("SQLITE_PATH"),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			ClaimTTL: time.Duration(envInt("MATCH_CLAIM_TTL_HOURS", 24)) * time.Hour,
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("LLM_API_KEY"),
			BaseURL: os.Getenv("LLM_BASE_URL"),
			Model:   os.Getenv("LLM_MODEL"),
		},
		Keepalive: KeepaliveConfig{
			Schedule: os.Getenv("KEEPALIVE_SCHEDULE"),
		},
		Keywords:    keywords,
		keywordsErr: keywordsErr,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.keywordsErr != nil {
		return &ConfigError{Field: "KEYWORDS_CONFIG_PATH", Message: c.keywordsErr.Error()}
	}
	switch c.Monitor.Source {
	case SourceTelegram:
		if c.Telegram.BotToken == "" {
			return &ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "required for telegram source"}
		}
	case SourceFeishu:
		if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
			return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required for feishu source"}
		}
	default:
		return &ConfigError{Field: "MONITOR_SOURCE", Message: "must be telegram or feishu"}
	}
	if len(c.Monitor.Chats) == 0 {
		return &ConfigError{Field: "MONITOR_CHATS", Message: "at least one chat is required"}
	}
	if c.Sink.URL == "" {
		return &ConfigError{Field: "SINK_URL", Message: "required"}
	}
	if c.Sink.Timeout <= 0 {
		return &ConfigError{Field: "SINK_TIMEOUT_SECONDS", Message: "must be positive"}
	}

	switch c.Store.Driver {
	case "rest":
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			return &ConfigError{Field: "SUPABASE_URL/SUPABASE_KEY", Message: "required for rest store"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return &ConfigError{Field: "DATABASE_URL", Message: "required for postgres store"}
		}
	case "sqlite":
	default:
		return &ConfigError{Field: "STORE_DRIVER", Message: "must be rest, postgres or sqlite"}
	}
	return nil
}

// IsDevelopment reports whether console logging should be used
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

// parseChats splits a comma separated chat list
func parseChats(raw string) []domain.ID {
	var chats []domain.ID
	seen := make(map[domain.ID]bool)
	for _, part := range strings.Split(raw, ",") {
		id := domain.ID(strings.TrimSpace(part))
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		chats = append(chats, id)
	}
	return chats
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
