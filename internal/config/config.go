// Package config provides configuration loading for pdfxtract.
// Supports YAML files, .env files and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for pdfxtract.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	OCR           OCRConfig           `yaml:"ocr"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Export        ExportConfig        `yaml:"export"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig holds completion endpoint settings.
type LLMConfig struct {
	Provider      string        `yaml:"provider"` // openrouter or gemini
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	GeminiAPIKey  string        `yaml:"gemini_api_key"`
	Model         string        `yaml:"model"`
	PageTimeout   time.Duration `yaml:"page_timeout"`
	StreamBuffer  int           `yaml:"stream_buffer"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// OCRConfig holds orchestration settings.
type OCRConfig struct {
	MaxPages    int `yaml:"max_pages"`
	EventBuffer int `yaml:"event_buffer"`
}

// ConversionConfig holds PDF rasterization settings.
type ConversionConfig struct {
	Quality     string  `yaml:"quality"` // high, medium or low
	Format      string  `yaml:"format"`  // jpg or png
	DPI         float64 `yaml:"dpi"`
	JPEGQuality int     `yaml:"jpeg_quality"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ShutdownPeriod time.Duration `yaml:"shutdown_period"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	// PageDir is the only directory API clients may reference local page
	// images in. Empty rejects local pages.
	PageDir string `yaml:"page_dir"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from path (optional), then applies .env and
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	_ = godotenv.Load() // Ignore error if .env doesn't exist

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:      "openrouter",
			BaseURL:       "https://openrouter.ai/api/v1/chat/completions",
			Model:         "gemini-2.5-flash-preview-05-20",
			StreamBuffer:  100,
			MaxRetries:    3,
			RetryBackoff:  1 * time.Second,
			RetryMaxDelay: 30 * time.Second,
		},
		OCR: OCRConfig{
			MaxPages:    3,
			EventBuffer: 100,
		},
		Conversion: ConversionConfig{
			Quality:     "medium",
			Format:      "jpg",
			DPI:         150,
			JPEGQuality: 85,
		},
		Export: ExportConfig{
			OutputDir: ".",
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			ShutdownPeriod: 10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "pdfxtract",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.LLM.Provider != "openrouter" && c.LLM.Provider != "gemini" {
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}

	if c.LLM.PageTimeout < 0 {
		return fmt.Errorf("page_timeout must not be negative")
	}

	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	if c.OCR.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1, got %d", c.OCR.MaxPages)
	}

	switch c.Conversion.Quality {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("invalid conversion quality: %s", c.Conversion.Quality)
	}

	if c.Conversion.Format != "jpg" && c.Conversion.Format != "png" {
		return fmt.Errorf("invalid conversion format: %s", c.Conversion.Format)
	}

	if c.Conversion.JPEGQuality < 1 || c.Conversion.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() (string, error) {
	key := c.LLM.APIKey
	envName := "OPENROUTER_API_KEY"
	if c.LLM.Provider == "gemini" {
		key = c.LLM.GeminiAPIKey
		envName = "GEMINI_API_KEY"
	}
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", envName)
	}
	return key, nil
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.PageTimeout = d
		}
	}

	if v := os.Getenv("OCR_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OCR.MaxPages = n
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PAGE_DIR"); v != "" {
		cfg.Server.PageDir = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
