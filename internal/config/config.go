package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/icron"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// DefaultFile is looked up in the working directory when no config path is
// given.
const DefaultFile = "subbatch.toml"

// Config holds all application configuration.
//
// Values are layered, later sources winning:
//  1. built-in defaults
//  2. TOML file (--config, SUBBATCH_CONFIG or ./subbatch.toml)
//  3. .env in the working directory
//  4. environment variables
//  5. Option funcs (command line flags)
//
// Environment Variables:
// LLM Configuration:
//   - LLM_API_KEY: API key for the LLM provider (required to translate)
//   - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
//   - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
//   - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
//   - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
//   - LLM_TIMEOUT: Request timeout in seconds (default: 120)
//   - LLM_SITE_URL, LLM_APP_NAME: optional OpenRouter headers
//
// Translate Configuration:
//   - SOURCE_DIR, OUTPUT_DIR: default folders
//   - TARGET_LANGUAGES: comma separated language keys, aliases or tags
//   - BATCH_SIZE (default: 10), MAX_BATCH_CHARS (default: 6000)
//   - PARALLEL_FILES, PARALLEL_LANGUAGES: true to run concurrently
//   - MAX_PARALLEL_FILES, MAX_PARALLEL_LANGUAGES (default: 4)
//   - SOURCE_SUFFIX (default: EN), SOURCE_LANGUAGE (default: en)
//   - LANGUAGES_FILE, GLOSSARY_FILE, TRANSLATION_STYLE
//
// Other:
//   - CACHE_ENABLED, CACHE_PATH
//   - LOG_LEVEL, LOG_FILE
//   - HTTP_ADDR (default: :8080)
//   - CRON_EXPR, SCHEDULE_RETRY_FAILED
//   - SETTINGS_FILE
type Config struct {
	LLM       llm.Config      `json:"llm" toml:"llm"`
	Translate TranslateConfig `json:"translate" toml:"translate"`
	Cache     CacheConfig     `json:"cache" toml:"cache"`
	Log       LogConfig       `json:"log" toml:"log"`
	HTTP      HTTPConfig      `json:"http" toml:"http"`
	Schedule  ScheduleConfig  `json:"schedule" toml:"schedule"`

	// Path is the config file that was read, if any.
	Path string `json:"-" toml:"-"`
}

type TranslateConfig struct {
	SourceDir            string   `json:"source_dir" toml:"source_dir"`
	OutputDir            string   `json:"output_dir" toml:"output_dir"`
	Languages            []string `json:"languages" toml:"languages"`
	BatchSize            int      `json:"batch_size" toml:"batch_size"`
	MaxBatchChars        int      `json:"max_batch_chars" toml:"max_batch_chars"`
	ParallelFiles        bool     `json:"parallel_files" toml:"parallel_files"`
	ParallelLanguages    bool     `json:"parallel_languages" toml:"parallel_languages"`
	MaxParallelFiles     int      `json:"max_parallel_files" toml:"max_parallel_files"`
	MaxParallelLanguages int      `json:"max_parallel_languages" toml:"max_parallel_languages"`
	SourceSuffix         string   `json:"source_suffix" toml:"source_suffix"`
	SourceLanguage       string   `json:"source_language" toml:"source_language"`
	LanguagesFile        string   `json:"languages_file" toml:"languages_file"`
	GlossaryFile         string   `json:"glossary_file" toml:"glossary_file"`
	// DiscoverTermMaps enables term_map.<src>-<tgt>.json lookup next to sources.
	DiscoverTermMaps bool   `json:"discover_term_maps" toml:"discover_term_maps"`
	Style            string `json:"style" toml:"style"`
}

type CacheConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Path    string `json:"path" toml:"path"`
}

type LogConfig struct {
	Level string `json:"level" toml:"level"`
	File  string `json:"file" toml:"file"`
}

type HTTPConfig struct {
	Addr         string `json:"addr" toml:"addr"`
	SettingsFile string `json:"settings_file" toml:"settings_file"`
}

type ScheduleConfig struct {
	CronExpr    string `json:"cron_expr" toml:"cron_expr"`
	RetryFailed bool   `json:"retry_failed" toml:"retry_failed"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: llm.Config{
			APIURL:      "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			MaxTokens:   8000,
			Temperature: 0.3,
			Timeout:     120,
		},
		Translate: TranslateConfig{
			BatchSize:            10,
			MaxBatchChars:        6000,
			MaxParallelFiles:     4,
			MaxParallelLanguages: 4,
			SourceSuffix:         "EN",
			SourceLanguage:       "en",
			DiscoverTermMaps:     true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    defaultCachePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Schedule: ScheduleConfig{
			CronExpr: "0 3 * * *",
		},
	}
}

// Load builds the configuration from every layer. path may be empty.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		cfg.Path = resolved
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Ignoring .env: %v", err)
	}
	cfg.applyEnv()

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %s", cfg.Redacted())
	return &cfg, nil
}

// NewFromEnv builds the configuration from defaults and the environment only.
func NewFromEnv(opts ...Option) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolvePath(path string) (string, bool, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("SUBBATCH_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFile
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return "", false, fmt.Errorf("config %s is a directory", path)
	case err == nil:
		return path, true, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return "", false, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", false, fmt.Errorf("config %s not found", path)
	default:
		return "", false, fmt.Errorf("stat config: %w", err)
	}
}

func (c *Config) applyEnv() {
	c.LLM.APIKey = getEnvString("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.APIURL = getEnvString("LLM_API_URL", c.LLM.APIURL)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvInt("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.SiteURL = getEnvString("LLM_SITE_URL", c.LLM.SiteURL)
	c.LLM.AppName = getEnvString("LLM_APP_NAME", c.LLM.AppName)

	t := &c.Translate
	t.SourceDir = getEnvString("SOURCE_DIR", t.SourceDir)
	t.OutputDir = getEnvString("OUTPUT_DIR", t.OutputDir)
	t.Languages = getEnvList("TARGET_LANGUAGES", t.Languages)
	t.BatchSize = getEnvInt("BATCH_SIZE", t.BatchSize)
	t.MaxBatchChars = getEnvInt("MAX_BATCH_CHARS", t.MaxBatchChars)
	t.ParallelFiles = getEnvBool("PARALLEL_FILES", t.ParallelFiles)
	t.ParallelLanguages = getEnvBool("PARALLEL_LANGUAGES", t.ParallelLanguages)
	t.MaxParallelFiles = getEnvInt("MAX_PARALLEL_FILES", t.MaxParallelFiles)
	t.MaxParallelLanguages = getEnvInt("MAX_PARALLEL_LANGUAGES", t.MaxParallelLanguages)
	t.SourceSuffix = getEnvString("SOURCE_SUFFIX", t.SourceSuffix)
	t.SourceLanguage = getEnvString("SOURCE_LANGUAGE", t.SourceLanguage)
	t.LanguagesFile = getEnvString("LANGUAGES_FILE", t.LanguagesFile)
	t.GlossaryFile = getEnvString("GLOSSARY_FILE", t.GlossaryFile)
	t.DiscoverTermMaps = getEnvBool("DISCOVER_TERM_MAPS", t.DiscoverTermMaps)
	t.Style = getEnvString("TRANSLATION_STYLE", t.Style)

	c.Cache.Enabled = getEnvBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Path = getEnvString("CACHE_PATH", c.Cache.Path)
	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnvString("LOG_FILE", c.Log.File)
	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.SettingsFile = getEnvString("SETTINGS_FILE", c.HTTP.SettingsFile)
	c.Schedule.CronExpr = getEnvString("CRON_EXPR", c.Schedule.CronExpr)
	c.Schedule.RetryFailed = getEnvBool("SCHEDULE_RETRY_FAILED", c.Schedule.RetryFailed)
}

// Validate checks values that are wrong regardless of the command being run.
// The API key is checked by RequireLLM since not every command needs it.
func (c *Config) Validate() error {
	t := c.Translate
	if t.BatchSize < 1 {
		return fmt.Errorf("translate.batch_size must be at least 1")
	}
	if t.MaxBatchChars < 1 {
		return fmt.Errorf("translate.max_batch_chars must be at least 1")
	}
	if t.MaxParallelFiles < 1 || t.MaxParallelLanguages < 1 {
		return fmt.Errorf("translate.max_parallel_files and max_parallel_languages must be at least 1")
	}
	if strings.TrimSpace(t.SourceSuffix) == "" {
		return fmt.Errorf("translate.source_suffix is required")
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) == "" {
		return fmt.Errorf("cache.path is required when the cache is enabled")
	}
	if c.Schedule.CronExpr != "" {
		if err := icron.Validate(c.Schedule.CronExpr); err != nil {
			return fmt.Errorf("schedule.cron_expr: %w", err)
		}
	}
	return nil
}

// RequireLLM checks the settings needed to call the provider.
func (c *Config) RequireLLM() error {
	if err := c.LLM.Validate(); err != nil {
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required")
		}
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// Redacted renders the config as TOML with the API key masked.
func (c Config) Redacted() string {
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = "***"
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return string(data)
}

func defaultCachePath() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "subbatch", "cache.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "subbatch", "cache.db")
	}
	return filepath.Join(os.TempDir(), "subbatch", "cache.db")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
