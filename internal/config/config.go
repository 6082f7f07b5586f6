// Package config loads gateway configuration.
//
// Precedence, poorest first:
//  1. hardcoded defaults below
//  2. configs/{APP_ENV}.yaml
//  3. process environment (populated from .env via godotenv outside prod)
//
// Secrets (JWT signing secret, LLM API key) have no field in YAMLConfig
// and come exclusively from the environment. The database DSN, which
// may embed a password, can be set in YAML as well as the environment;
// String() masks the password part of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment selects which YAML file and .env file to load.
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig is the non-secret subset of Config loadable from a file.
type YAMLConfig struct {
	Port            string `yaml:"port"`
	CacheRoot       string `yaml:"cache_root"`
	FilesRoot       string `yaml:"files_root"`
	CatalogPath     string `yaml:"catalog_path"`
	DatabaseDriver  string `yaml:"database_driver"` // "postgres" or "sqlite"
	DatabaseDSN     string `yaml:"database_dsn"`
	UpstreamBaseURL string `yaml:"upstream_base_url"`
	UpstreamTimeout string `yaml:"upstream_timeout"` // e.g. "30s"
	RetryAttempts   int    `yaml:"retry_attempts"`
	CacheCeiling    int64  `yaml:"cache_ceiling_bytes"`
	AccessTokenTTL  string `yaml:"access_token_ttl"` // e.g. "30m"
	LLMBaseURL      string `yaml:"llm_base_url"`
	LLMModel        string `yaml:"llm_model"`
	LLMMaxTurns     int    `yaml:"llm_max_turns"`
	LLMWallClock    string `yaml:"llm_wall_clock"` // e.g. "60s"
}

// Config is the fully resolved configuration used by the process.
type Config struct {
	Env Environment

	Port string

	CacheRoot string
	FilesRoot string

	CatalogPath string

	DatabaseDriver string
	DatabaseDSN    string // from YAML or env; password masked in String()

	UpstreamBaseURL string
	UpstreamTimeout time.Duration
	RetryAttempts   int
	CacheCeilingBytes int64

	JWTSecret      string // secret: env only
	AccessTokenTTL time.Duration

	LLMBaseURL   string
	LLMAPIKey    string // secret: env only
	LLMModel     string
	LLMMaxTurns  int
	LLMWallClock time.Duration

	LogLevel  string
	LogFormat string
}

func defaults() *Config {
	return &Config{
		Env:               EnvDevelopment,
		Port:              "8000",
		CacheRoot:         "./data/cache",
		FilesRoot:         "./data/files",
		CatalogPath:       "./configs/catalog.json",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       "file:./data/gateway.db?_pragma=busy_timeout(5000)",
		UpstreamBaseURL:   "http://localhost:9000",
		UpstreamTimeout:   30 * time.Second,
		RetryAttempts:     3,
		CacheCeilingBytes: 1 << 30, // 1 GiB
		AccessTokenTTL:    30 * time.Minute,
		LLMBaseURL:        "https://api.anthropic.com",
		LLMModel:           "claude-3-5-sonnet-latest",
		LLMMaxTurns:        6,
		LLMWallClock:       60 * time.Second,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load resolves configuration per the precedence above. It never returns
// an error: an unwritable/missing YAML file just falls back to defaults,
// but a missing signing secret is caught by the caller (main) as a fatal
// startup failure per the spec's exit-code contract.
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))

	if env != EnvProduction {
		for _, candidate := range envFileCandidates(env) {
			if _, err := os.Stat(candidate); err == nil {
				_ = godotenv.Load(candidate)
				break
			}
		}
	}

	cfg := defaults()
	cfg.Env = env

	if y := loadYAML(env); y != nil {
		applyYAML(cfg, y)
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.CacheRoot = getEnv("CACHE_ROOT", cfg.CacheRoot)
	cfg.FilesRoot = getEnv("FILES_ROOT", cfg.FilesRoot)
	cfg.CatalogPath = getEnv("CATALOG_PATH", cfg.CatalogPath)
	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.UpstreamBaseURL = getEnv("UPSTREAM_BASE_URL", cfg.UpstreamBaseURL)
	cfg.UpstreamTimeout = getDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	cfg.RetryAttempts = getInt("UPSTREAM_RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.CacheCeilingBytes = getInt64("CACHE_CEILING_BYTES", cfg.CacheCeilingBytes)
	cfg.AccessTokenTTL = getDuration("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMMaxTurns = getInt("LLM_MAX_TURNS", cfg.LLMMaxTurns)
	cfg.LLMWallClock = getDuration("LLM_WALL_CLOCK", cfg.LLMWallClock)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")

	return cfg
}

func applyYAML(cfg *Config, y *YAMLConfig) {
	if y.Port != "" {
		cfg.Port = y.Port
	}
	if y.CacheRoot != "" {
		cfg.CacheRoot = y.CacheRoot
	}
	if y.FilesRoot != "" {
		cfg.FilesRoot = y.FilesRoot
	}
	if y.CatalogPath != "" {
		cfg.CatalogPath = y.CatalogPath
	}
	if y.DatabaseDriver != "" {
		cfg.DatabaseDriver = y.DatabaseDriver
	}
	if y.DatabaseDSN != "" {
		cfg.DatabaseDSN = y.DatabaseDSN
	}
	if y.UpstreamBaseURL != "" {
		cfg.UpstreamBaseURL = y.UpstreamBaseURL
	}
	if d, err := time.ParseDuration(y.UpstreamTimeout); err == nil {
		cfg.UpstreamTimeout = d
	}
	if y.RetryAttempts > 0 {
		cfg.RetryAttempts = y.RetryAttempts
	}
	if y.CacheCeiling > 0 {
		cfg.CacheCeilingBytes = y.CacheCeiling
	}
	if d, err := time.ParseDuration(y.AccessTokenTTL); err == nil {
		cfg.AccessTokenTTL = d
	}
	if y.LLMBaseURL != "" {
		cfg.LLMBaseURL = y.LLMBaseURL
	}
	if y.LLMModel != "" {
		cfg.LLMModel = y.LLMModel
	}
	if y.LLMMaxTurns > 0 {
		cfg.LLMMaxTurns = y.LLMMaxTurns
	}
	if d, err := time.ParseDuration(y.LLMWallClock); err == nil {
		cfg.LLMWallClock = d
	}
}

func loadYAML(env Environment) *YAMLConfig {
	dir := getEnv("CONFIG_DIR", "configs")
	path := filepath.Join(dir, string(env)+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil
	}
	return &y
}

func envFileCandidates(env Environment) []string {
	return []string{
		".env." + string(env),
		".env",
	}
}

func parseEnv(s string) Environment {
	switch Environment(s) {
	case EnvProduction, EnvTest, EnvDevelopment:
		return Environment(s)
	default:
		return EnvDevelopment
	}
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
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// IsProd reports whether the process is running in the production
// environment.
func (c *Config) IsProd() bool { return c.Env == EnvProduction }

// String renders a redacted summary safe for logging: secrets and
// DSN credentials are masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"env=%s port=%s cache_root=%s files_root=%s db_driver=%s db_dsn=%s upstream=%s jwt_secret=%s llm_base=%s",
		c.Env, c.Port, c.CacheRoot, c.FilesRoot, c.DatabaseDriver,
		maskDSN(c.DatabaseDSN), c.UpstreamBaseURL, maskSecret(c.JWTSecret), c.LLMBaseURL,
	)
}

var dsnPasswordRe = regexp.MustCompile(`(://[^:]+:)[^@]+(@)`)

func maskDSN(dsn string) string {
	return dsnPasswordRe.ReplaceAllString(dsn, "${1}***${2}")
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "***"
}
