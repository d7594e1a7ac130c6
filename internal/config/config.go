package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Reports     ReportsConfig     `mapstructure:"reports"`
	Payments    PaymentsConfig    `mapstructure:"payments"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Events      EventsConfig      `mapstructure:"events"`
	AI          AIConfig          `mapstructure:"ai"`
}

// AppConfig holds service identity and defaults.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	Network  string `mapstructure:"network"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ReportsConfig locates rendered HTML reports.
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// PaymentsConfig controls the payment gate.
type PaymentsConfig struct {
	Bypass        bool    `mapstructure:"bypass"`
	ServiceURL    string  `mapstructure:"service_url"`
	APIKey        string  `mapstructure:"api_key"`
	TimeoutSec    int     `mapstructure:"timeout_sec"`
	PollSec       int     `mapstructure:"poll_sec"`
	PriceADA      float64 `mapstructure:"price_ada"`
	SellerVKey    string  `mapstructure:"seller_vkey"`
	ResumeOnStart bool    `mapstructure:"resume_on_start"`
}

// Timeout is how long the gate waits for a payment.
func (p PaymentsConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// PollInterval is the delay between payment status reads.
func (p PaymentsConfig) PollInterval() time.Duration {
	return time.Duration(p.PollSec) * time.Second
}

// CacheConfig controls result reuse per address and network.
type CacheConfig struct {
	TTLSec int `mapstructure:"ttl_sec"`
}

// TTL is how long a cached result stays fresh.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// IdempotencyConfig controls reuse of recent jobs for identical input.
type IdempotencyConfig struct {
	WindowSec int `mapstructure:"window_sec"`
}

// Window is how far back an identical request reuses a job.
func (c IdempotencyConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// RateLimitConfig sets the per-client request budget.
type RateLimitConfig struct {
	RPM int `mapstructure:"rpm"`
}

// ChainConfig configures the address data source.
type ChainConfig struct {
	BlockfrostProjectID string `mapstructure:"blockfrost_project_id"`
}

// AIConfig selects the scorer. Mode "openai" needs an API key.
type AIConfig struct {
	Mode         string `mapstructure:"mode"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	Model        string `mapstructure:"model"`
}

// EventsConfig configures the optional Redis job event publisher.
type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
}

// binding maps a config key to its environment variable and default.
type binding struct {
	key string
	env string
	def interface{}
}

var bindings = []binding{
	{"app.name", "APP_NAME", "jobgate"},
	{"app.log_level", "LOG_LEVEL", "info"},
	{"app.network", "NETWORK", "mainnet"},
	{"server.port", "PORT", "8080"},
	{"database.path", "DB_PATH", "./data/app.db"},
	{"reports.dir", "REPORTS_DIR", "./reports"},
	{"payments.bypass", "MASUMI_BYPASS_PAYMENTS", true},
	{"payments.service_url", "MASUMI_PAYMENT_SERVICE_URL", ""},
	{"payments.api_key", "MASUMI_API_KEY", ""},
	{"payments.timeout_sec", "MASUMI_PAYMENT_TIMEOUT_SEC", 600},
	{"payments.poll_sec", "MASUMI_PAYMENT_POLL_SEC", 5},
	{"payments.price_ada", "PRICE_PER_ADDRESS_ADA", 0.03},
	{"payments.seller_vkey", "SELLER_VKEY", ""},
	{"payments.resume_on_start", "MASUMI_RESUME_ON_START", true},
	{"cache.ttl_sec", "CACHE_TTL_SEC", 86400},
	{"idempotency.window_sec", "IDEMPOTENCY_WINDOW_SEC", 600},
	{"rate_limit.rpm", "RATE_LIMIT_RPM", 60},
	{"chain.blockfrost_project_id", "BLOCKFROST_PROJECT_ID", ""},
	{"events.redis_addr", "REDIS_ADDR", ""},
	{"events.redis_password", "REDIS_PASSWORD", ""},
	{"events.redis_db", "REDIS_DB", 0},
	{"events.channel", "EVENTS_CHANNEL", "jobgate:jobs"},
	{"ai.mode", "AI_ANALYSIS_MODE", "deterministic"},
	{"ai.openai_api_key", "OPENAI_API_KEY", ""},
	{"ai.model", "OPENAI_MODEL", "gpt-4o-mini"},
}

// Load reads defaults, then the optional YAML file at configPath, then the
// environment. A .env file in the working directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}

	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind env %s failed: %w", b.env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.App.Network != "mainnet" && c.App.Network != "preprod" {
		return fmt.Errorf("app.network must be mainnet or preprod, got %q", c.App.Network)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Payments.TimeoutSec <= 0 {
		return fmt.Errorf("payments.timeout_sec must be positive")
	}
	if c.Payments.PollSec <= 0 {
		return fmt.Errorf("payments.poll_sec must be positive")
	}
	if c.Cache.TTLSec <= 0 {
		return fmt.Errorf("cache.ttl_sec must be positive")
	}
	if c.Idempotency.WindowSec <= 0 {
		return fmt.Errorf("idempotency.window_sec must be positive")
	}
	if c.AI.Mode != "deterministic" && c.AI.Mode != "openai" {
		return fmt.Errorf("ai.mode must be deterministic or openai, got %q", c.AI.Mode)
	}
	if !c.Payments.Bypass && (c.Payments.ServiceURL == "" || c.Payments.APIKey == "") {
		return fmt.Errorf("payments.service_url and payments.api_key are required when payments are not bypassed")
	}
	return nil
}

// RateLimitCapacity returns the token bucket capacity, at least 1.
func (c *Config) RateLimitCapacity() int {
	if c.RateLimit.RPM < 1 {
		return 1
	}
	return c.RateLimit.RPM
}
