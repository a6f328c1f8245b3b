package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the sample builder
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음. 컴포넌트는 생성 시 이 값을 주입받는다.
type Config struct {
	// Server
	Port string `env:"PORT" validate:"required,numeric"`
	Env  string `env:"ENV" validate:"oneof=development staging production"`

	// Database
	Database DatabaseConfig

	// Redis (fetch cache + rate limiter)
	Redis RedisConfig

	// Data providers
	Providers ProvidersConfig

	// LLM distillation
	LLM LLMConfig

	// Artifact storage
	Storage StorageConfig

	// HTTP
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" validate:"gt=0"`
	RateLimitDelay time.Duration `env:"RATE_LIMIT_DELAY" validate:"gte=0"`

	// Run profile (YAML quotas); empty means built-in defaults
	RunProfile string

	// Default ticker universe for scheduled runs
	Tickers []string `env:"TICKERS"`

	// Cron expression (with seconds, UTC) of the daily build
	DailyBuildSchedule string

	// Logging
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=json console pretty"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool

	// 모든 키 앞에 붙는 네임스페이스 (여러 빌더가 하나의 Redis를 공유할 때)
	KeyPrefix string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL    string
	Schema string

	// Connection Pool
	MaxConns        int `env:"DB_MAX_CONNS" validate:"gte=1"`
	MinConns        int `env:"DB_MIN_CONNS" validate:"gte=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ProvidersConfig holds API keys and base URLs of the upstream data providers
type ProvidersConfig struct {
	FinnhubAPIKey  string
	FinnhubBaseURL string
	FMPAPIKey      string
	FMPBaseURL     string
	EODHDAPIKey    string
	EODHDBaseURL   string
	NewsAPIKey     string
	NewsAPIBaseURL string
	YahooEnabled   bool
}

// LLMConfig holds distillation settings
type LLMConfig struct {
	APIKey    string
	Model     string
	MaxTokens int `env:"LLM_MAX_TOKENS" validate:"gt=0"`
	BatchSize int `env:"LLM_BATCH_SIZE" validate:"gt=0"`
}

// StorageConfig selects where exports and archived artifacts are written
type StorageConfig struct {
	Backend  string `env:"STORAGE_BACKEND" validate:"oneof=local s3"`
	DataRoot string `env:"DATA_ROOT" validate:"required_if=Backend local"`

	S3Bucket    string `env:"S3_BUCKET" validate:"required_if=Backend s3"`
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from environment variables.
// A value that is set but does not parse is an error, not a silent default.
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	var e envReader
	cfg := &Config{
		Port: e.str("PORT", "8090"),
		Env:  e.str("ENV", "development"),

		Database: DatabaseConfig{
			URL:             e.str("DATABASE_URL", ""),
			Schema:          e.str("DB_SCHEMA", "charlie"),
			MaxConns:        e.int("DB_MAX_CONNS", 25),
			MinConns:        e.int("DB_MIN_CONNS", 2),
			MaxConnLifetime: e.duration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: e.duration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},

		Redis: RedisConfig{
			Host:      e.str("REDIS_HOST", "localhost"),
			Port:      e.str("REDIS_PORT", "6379"),
			Password:  e.str("REDIS_PASSWORD", ""),
			DB:        e.int("REDIS_DB", 0),
			Enabled:   e.bool("REDIS_ENABLED", false),
			KeyPrefix: e.str("REDIS_KEY_PREFIX", "charlie"),
		},

		Providers: ProvidersConfig{
			FinnhubAPIKey:  e.str("FINNHUB_API_KEY", ""),
			FinnhubBaseURL: e.str("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
			FMPAPIKey:      e.str("FMP_API_KEY", ""),
			FMPBaseURL:     e.str("FMP_BASE_URL", "https://financialmodelingprep.com/stable"),
			EODHDAPIKey:    e.str("EODHD_API_KEY", ""),
			EODHDBaseURL:   e.str("EODHD_BASE_URL", "https://eodhd.com/api"),
			NewsAPIKey:     e.str("NEWSAPI_KEY", ""),
			NewsAPIBaseURL: e.str("NEWSAPI_BASE_URL", "https://newsapi.org/v2"),
			YahooEnabled:   e.bool("YAHOO_ENABLED", true),
		},

		LLM: LLMConfig{
			APIKey:    e.str("ANTHROPIC_API_KEY", ""),
			Model:     e.str("LLM_MODEL", "claude-3-5-haiku-latest"),
			MaxTokens: e.int("LLM_MAX_TOKENS", 1000),
			BatchSize: e.int("LLM_BATCH_SIZE", 8),
		},

		Storage: StorageConfig{
			Backend:     e.str("STORAGE_BACKEND", "local"),
			DataRoot:    e.str("DATA_ROOT", "./data"),
			S3Bucket:    e.str("S3_BUCKET", ""),
			S3Prefix:    e.str("S3_PREFIX", "charlie"),
			S3Region:    e.str("S3_REGION", "us-east-1"),
			S3Endpoint:  e.str("S3_ENDPOINT", ""),
			S3AccessKey: e.str("AWS_ACCESS_KEY_ID", ""),
			S3SecretKey: e.str("AWS_SECRET_ACCESS_KEY", ""),
		},

		HTTPTimeout:    e.duration("HTTP_TIMEOUT", 30*time.Second),
		RateLimitDelay: e.duration("RATE_LIMIT_DELAY", time.Second),

		RunProfile: e.str("RUN_PROFILE", ""),
		Tickers:    e.list("TICKERS", "AAPL,NVDA,MSFT,AMZN,META"),

		DailyBuildSchedule: e.str("DAILY_BUILD_SCHEDULE", "0 30 6 * * *"),

		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "json"),
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile loads an explicit env file before Load; variables already set in the environment win
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return Load()
}

// 에러 메시지에는 Go 필드명 대신 env 태그(환경변수 이름)를 쓴다
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	return v
}()

// validate reports every invalid value at once, named by its environment variable
func (c *Config) validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "oneof":
			msgs = append(msgs, fmt.Errorf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "required", "required_if":
			msgs = append(msgs, fmt.Errorf("%s is required", fe.Field()))
		case "ltefield":
			msgs = append(msgs, fmt.Errorf("%s must not exceed DB_MAX_CONNS", fe.Field()))
		default:
			msgs = append(msgs, fmt.Errorf("%s=%v fails %s%s", fe.Field(), fe.Value(), fe.Tag(), paramSuffix(fe.Param())))
		}
	}
	return errors.Join(msgs...)
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// RequireDatabase reports an error when no DATABASE_URL was configured.
// Commands that only touch the in-memory store skip this check.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// APIStatus reports which providers have credentials configured
func (c *Config) APIStatus() map[string]bool {
	return map[string]bool{
		"finnhub": c.Providers.FinnhubAPIKey != "",
		"fmp":     c.Providers.FMPAPIKey != "",
		"eodhd":   c.Providers.EODHDAPIKey != "",
		"newsapi": c.Providers.NewsAPIKey != "",
		"yahoo":   c.Providers.YahooEnabled,
		"llm":     c.LLM.APIKey != "",
	}
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// envReader reads typed variables and collects parse failures
type envReader struct {
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (e *envReader) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return def
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}

// list splits a comma-separated value, dropping blanks
func (e *envReader) list(key, def string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, def), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
