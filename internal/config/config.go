// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.toolgate/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Sandbox: base path, allowed extensions, file size limits
//   - Gate: rate limits, blocked command patterns, timeouts
//   - Web, Git, Database, AI: per-toolset settings
//
// Security: sensitive values (tokens, connection strings) are masked in
// MarshalJSON and String. Validation lives in validation.go and uses
// sentinel errors for errors.Is() checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultRateLimit is the per-caller request budget per window.
	DefaultRateLimit = 60

	// DefaultRateWindow is the length of a rate-limit window.
	DefaultRateWindow = time.Minute

	// DefaultMaxFileSizeMB bounds single file reads and writes.
	DefaultMaxFileSizeMB = 100

	// DefaultGeminiModel is the model used by the AI toolset.
	DefaultGeminiModel = "gemini-2.5-flash"
)

// defaultAllowedExtensions is the file extension allow-list applied to
// file writes. Reads of extensionless files (Makefile, LICENSE) are
// permitted; see gate.Policy.
var defaultAllowedExtensions = []string{
	".txt", ".md", ".rst", ".log",
	".py", ".go", ".js", ".ts", ".jsx", ".tsx",
	".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".rb", ".php", ".sh",
	".json", ".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf", ".env",
	".html", ".css", ".xml", ".csv", ".sql",
	".dockerfile", ".gitignore", ".editorconfig",
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (tokens, keys, DSNs), update MarshalJSON.
type Config struct {
	// Sandbox configuration
	BasePath          string   `mapstructure:"base_path" json:"base_path"`
	DataDir           string   `mapstructure:"data_dir" json:"data_dir"`
	MaxFileSizeMB     int64    `mapstructure:"max_file_size_mb" json:"max_file_size_mb"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" json:"allowed_extensions"`

	// Gate configuration
	RateLimitPerWindow int      `mapstructure:"rate_limit_per_window" json:"rate_limit_per_window"`
	RateWindowSeconds  int      `mapstructure:"rate_window_seconds" json:"rate_window_seconds"`
	BlockedCommands    []string `mapstructure:"blocked_commands" json:"blocked_commands"`

	// Execution limits
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds" json:"command_timeout_seconds"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`

	// Metrics configuration
	MetricsAddr string `mapstructure:"metrics_addr" json:"metrics_addr"`
	MetricsFile string `mapstructure:"metrics_file" json:"metrics_file"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Per-toolset configuration (see tools.go for type definitions)
	Web      WebConfig      `mapstructure:"web" json:"web"`
	Git      GitConfig      `mapstructure:"git" json:"git"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	AI       AIConfig       `mapstructure:"ai" json:"ai"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".toolgate")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	// Sandbox defaults: confine tools to the working directory.
	viper.SetDefault("base_path", cwd)
	viper.SetDefault("data_dir", configDir)
	viper.SetDefault("max_file_size_mb", DefaultMaxFileSizeMB)
	viper.SetDefault("allowed_extensions", defaultAllowedExtensions)

	// Gate defaults
	viper.SetDefault("rate_limit_per_window", DefaultRateLimit)
	viper.SetDefault("rate_window_seconds", int(DefaultRateWindow.Seconds()))
	viper.SetDefault("blocked_commands", []string{})

	// Execution defaults
	viper.SetDefault("command_timeout_seconds", 30)
	viper.SetDefault("request_timeout_seconds", 60)

	// Metrics defaults: empty addr disables the HTTP listener.
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("metrics_file", filepath.Join(configDir, "metrics.json"))

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	// Web defaults
	viper.SetDefault("web.user_agent", "toolgate/1.0")
	viper.SetDefault("web.parallelism", 2)
	viper.SetDefault("web.delay_ms", 1000)
	viper.SetDefault("web.timeout_ms", 30000)
	viper.SetDefault("web.max_response_mb", 10)
	viper.SetDefault("web.requests_per_second", 2.0)

	// Git defaults
	viper.SetDefault("git.author_name", "toolgate")
	viper.SetDefault("git.author_email", "toolgate@localhost")

	// Database defaults
	viper.SetDefault("database.audit_enabled", false)

	// AI defaults
	viper.SetDefault("ai.model", DefaultGeminiModel)
}

// bindEnvVariables binds environment variable overrides explicitly.
// Secrets come only from the environment, never from the config file:
//  1. TOOLGATE_DATABASE_URL - PostgreSQL DSN for db tools and audit log
//  2. TOOLGATE_GIT_TOKEN - token for git push/pull over HTTPS
//  3. GEMINI_API_KEY - read in ai.go, validated when AI tools are used
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("base_path", "TOOLGATE_BASE_PATH")
	mustBind("rate_limit_per_window", "TOOLGATE_RATE_LIMIT")
	mustBind("rate_window_seconds", "TOOLGATE_RATE_WINDOW_SECONDS")
	mustBind("max_file_size_mb", "TOOLGATE_MAX_FILE_SIZE_MB")
	mustBind("command_timeout_seconds", "TOOLGATE_COMMAND_TIMEOUT")
	mustBind("metrics_addr", "TOOLGATE_METRICS_ADDR")
	mustBind("metrics_file", "TOOLGATE_METRICS_FILE")
	mustBind("log_level", "TOOLGATE_LOG_LEVEL")
	mustBind("log_json", "TOOLGATE_LOG_JSON")

	mustBind("database.url", "TOOLGATE_DATABASE_URL")
	mustBind("database.audit_enabled", "TOOLGATE_AUDIT_ENABLED")
	mustBind("git.token", "TOOLGATE_GIT_TOKEN")
	mustBind("ai.model", "TOOLGATE_AI_MODEL")

	// NOTE: GEMINI_API_KEY is read directly in AIConfig.APIKey(), not via
	// Viper, so it never round-trips through Unmarshal or MarshalJSON.
}

// MaxFileSize returns the file size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// RateWindow returns the rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// CommandTimeout returns the default command execution timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request deadline for tool calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) cannot collide with secret substrings.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep
// the first and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// If logs are compromised, rotate the secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - Git.Token (via GitConfig.MarshalJSON)
//   - Database.URL (via DatabaseConfig.MarshalJSON)
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	data, err := json.Marshal(alias(c))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
