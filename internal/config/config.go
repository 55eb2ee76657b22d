package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelConfig names the chat model used by each analysis mode.
type ModelConfig struct {
	Fast   string `yaml:"fast"`
	Normal string `yaml:"normal"`
	Deep   string `yaml:"deep"`
}

// Config holds all service configuration. Values come from the defaults,
// then the YAML file named by CONFIG_PATH, then environment variables.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`

	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDB       string `yaml:"mongo_db"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	OpenAIAPIKey  string      `yaml:"openai_api_key"`
	OpenAIBaseURL string      `yaml:"openai_base_url"`
	Models        ModelConfig `yaml:"models"`

	MaxUploadMB      int64         `yaml:"max_upload_mb"`
	MaxDocumentChars int           `yaml:"max_document_chars"`
	AnalyzePerMinute int           `yaml:"analyze_per_minute"`
	AnalyzeBurst     int           `yaml:"analyze_burst"`
	AnalysisLockTTL  time.Duration `yaml:"analysis_lock_ttl"`
	AnalysisTimeout  time.Duration `yaml:"analysis_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	SessionTTL          time.Duration `yaml:"session_ttl"`
	SessionCookieSecure bool          `yaml:"session_cookie_secure"`
}

func defaults() *Config {
	return &Config{
		Port:             "8000",
		AllowedOrigins:   []string{"http://localhost:3000"},
		LogLevel:         "info",
		LogFormat:        "text",
		MongoDB:          "kepin",
		RedisAddr:        "redis:6379",
		MinioEndpoint:    "minio:9000",
		MinioBucket:      "kepin-uploads",
		Models:           ModelConfig{Fast: "gpt-4o-mini", Normal: "gpt-4o", Deep: "o4-mini"},
		MaxUploadMB:      20,
		MaxDocumentChars: 60000,
		AnalyzePerMinute: 6,
		AnalyzeBurst:     2,
		AnalysisLockTTL:  10 * time.Minute,
		AnalysisTimeout:  5 * time.Minute,
		ShutdownTimeout:  10 * time.Second,
		SessionTTL:       24 * time.Hour,
	}
}

// Load builds the configuration.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getenv("PORT", c.Port)
	c.AllowedOrigins = getenvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)

	c.PostgresDSN = getenv("POSTGRES_DSN", c.PostgresDSN)
	c.MongoURI = getenv("MONGO_URI", c.MongoURI)
	c.MongoDB = getenv("MONGO_DB", c.MongoDB)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)

	c.MinioEndpoint = getenv("MINIO_ENDPOINT", c.MinioEndpoint)
	c.MinioAccessKey = getenv("MINIO_ACCESS_KEY", c.MinioAccessKey)
	c.MinioSecretKey = getenv("MINIO_SECRET_KEY", c.MinioSecretKey)
	c.MinioBucket = getenv("MINIO_BUCKET", c.MinioBucket)
	c.MinioUseSSL = getenvBool("MINIO_USE_SSL", c.MinioUseSSL)

	c.OpenAIAPIKey = getenv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.Models.Fast = getenv("MODEL_FAST", c.Models.Fast)
	c.Models.Normal = getenv("MODEL_NORMAL", c.Models.Normal)
	c.Models.Deep = getenv("MODEL_DEEP", c.Models.Deep)

	c.MaxUploadMB = int64(getenvInt("MAX_UPLOAD_MB", int(c.MaxUploadMB)))
	c.MaxDocumentChars = getenvInt("MAX_DOCUMENT_CHARS", c.MaxDocumentChars)
	c.AnalyzePerMinute = getenvInt("ANALYZE_PER_MINUTE", c.AnalyzePerMinute)
	c.AnalyzeBurst = getenvInt("ANALYZE_BURST", c.AnalyzeBurst)
	c.AnalysisLockTTL = getenvDuration("ANALYSIS_LOCK_TTL", c.AnalysisLockTTL)
	c.AnalysisTimeout = getenvDuration("ANALYSIS_TIMEOUT", c.AnalysisTimeout)
	c.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.SessionTTL = getenvDuration("SESSION_TTL", c.SessionTTL)
	c.SessionCookieSecure = getenvBool("SESSION_COOKIE_SECURE", c.SessionCookieSecure)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
