// ABOUTME: Configuration loading and parsing for palladium-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in llm.provider.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Sheet backends accepted in sheets.backend.
const (
	SheetsBackendGoogle = "google"
	SheetsBackendMemory = "memory"
)

// Config represents the complete palladium-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	Sheets   SheetsConfig   `yaml:"sheets" toml:"sheets"`
	Sessions SessionsConfig `yaml:"sessions" toml:"sessions"`
	Uploads  UploadsConfig  `yaml:"uploads" toml:"uploads"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" toml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LLMConfig selects and configures the completion provider
type LLMConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"`
	Model       string  `yaml:"model" toml:"model"`
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	// Functions enables structured function calling. When false the model
	// only sees the [ACTION] markup instructions.
	Functions  bool `yaml:"functions" toml:"functions"`
	MaxRetries int  `yaml:"max_retries" toml:"max_retries"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// SheetsConfig configures the spreadsheet backend
type SheetsConfig struct {
	Backend           string  `yaml:"backend" toml:"backend"`
	CredentialsFile   string  `yaml:"credentials_file" toml:"credentials_file"`
	CredentialsJSON   string  `yaml:"credentials_json" toml:"credentials_json"`
	SheetName         string  `yaml:"sheet_name" toml:"sheet_name"`
	SharePublic       *bool   `yaml:"share_public" toml:"share_public"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries" toml:"max_retries"`
}

// SessionsConfig bounds the in-memory session registry
type SessionsConfig struct {
	MaxSessions int           `yaml:"max_sessions" toml:"max_sessions"`
	IdleTTL     time.Duration `yaml:"-" toml:"-"`

	IdleTTLRaw string `yaml:"idle_ttl" toml:"idle_ttl"`
}

// UploadsConfig configures file upload storage
type UploadsConfig struct {
	Dir             string `yaml:"dir" toml:"dir"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	MaxContextBytes int    `yaml:"max_context_bytes" toml:"max_context_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// File, when set, receives a JSON copy of every log record.
	File string `yaml:"file" toml:"file"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes. ext selects the format (".toml" or YAML otherwise).
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: "palladium.db"},
		LLM: LLMConfig{
			APIKey:    "${OPENAI_API_KEY}",
			Functions: true,
		},
		Sheets: SheetsConfig{
			CredentialsFile: "${GOOGLE_CREDENTIALS_PATH}",
		},
	}
	cfg.ApplyDefaults()
	cfg.Server.ShutdownTimeoutRaw = cfg.Server.ShutdownTimeout.String()
	cfg.LLM.RequestTimeoutRaw = cfg.LLM.RequestTimeout.String()
	cfg.Sessions.IdleTTLRaw = cfg.Sessions.IdleTTL.String()
	return cfg
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 2 * time.Minute
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}

	if c.Sheets.Backend == "" {
		c.Sheets.Backend = SheetsBackendGoogle
	}
	if c.Sheets.SheetName == "" {
		c.Sheets.SheetName = "Vendor Inventory"
	}
	if c.Sheets.SharePublic == nil {
		share := true
		c.Sheets.SharePublic = &share
	}
	if c.Sheets.RequestsPerSecond == 0 {
		c.Sheets.RequestsPerSecond = 1
	}
	if c.Sheets.MaxRetries == 0 {
		c.Sheets.MaxRetries = 3
	}

	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = 10000
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = 24 * time.Hour
	}

	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Uploads.MaxUploadBytes == 0 {
		c.Uploads.MaxUploadBytes = 32 << 20
	}
	if c.Uploads.MaxContextBytes == 0 {
		c.Uploads.MaxContextBytes = 200000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the openai provider")
		}
	case ProviderOllama:
		if c.LLM.Functions {
			return fmt.Errorf("llm.functions is not supported by the ollama provider")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}

	switch c.Sheets.Backend {
	case SheetsBackendGoogle:
		if c.Sheets.CredentialsFile == "" && c.Sheets.CredentialsJSON == "" {
			return fmt.Errorf("sheets.credentials_file or sheets.credentials_json is required for the google backend")
		}
	case SheetsBackendMemory:
	default:
		return fmt.Errorf("sheets.backend %q is not supported", c.Sheets.Backend)
	}

	if c.Sheets.RequestsPerSecond < 0 {
		return fmt.Errorf("sheets.requests_per_second must not be negative")
	}

	if c.Sessions.MaxSessions < 0 {
		return fmt.Errorf("sessions.max_sessions must not be negative")
	}

	if c.Uploads.MaxUploadBytes < 0 {
		return fmt.Errorf("uploads.max_upload_bytes must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.LLM.RequestTimeoutRaw != "" {
		cfg.LLM.RequestTimeout, err = time.ParseDuration(cfg.LLM.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.LLM.RequestTimeoutRaw, err)
		}
	}

	if cfg.Sessions.IdleTTLRaw != "" {
		cfg.Sessions.IdleTTL, err = time.ParseDuration(cfg.Sessions.IdleTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_ttl %q: %w", cfg.Sessions.IdleTTLRaw, err)
		}
	}

	return nil
}
