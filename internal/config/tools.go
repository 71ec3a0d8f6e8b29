package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// WebConfig controls the web toolset: scraping politeness, outbound
// request pacing, and response size limits.
type WebConfig struct {
	UserAgent         string  `mapstructure:"user_agent" json:"user_agent"`
	Parallelism       int     `mapstructure:"parallelism" json:"parallelism"`
	DelayMS           int     `mapstructure:"delay_ms" json:"delay_ms"`
	TimeoutMS         int     `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxResponseMB     int64   `mapstructure:"max_response_mb" json:"max_response_mb"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// Delay returns the inter-request delay for the scraper.
func (w WebConfig) Delay() time.Duration {
	return time.Duration(w.DelayMS) * time.Millisecond
}

// Timeout returns the outbound request timeout.
func (w WebConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// MaxResponseSize returns the response body limit in bytes.
func (w WebConfig) MaxResponseSize() int64 {
	return w.MaxResponseMB * 1024 * 1024
}

// GitConfig controls the git toolset. Token authenticates HTTPS
// remotes for pull and push; empty means anonymous access.
type GitConfig struct {
	AuthorName  string `mapstructure:"author_name" json:"author_name"`
	AuthorEmail string `mapstructure:"author_email" json:"author_email"`
	Token       string `mapstructure:"token" json:"token"` // SENSITIVE: masked in MarshalJSON
}

// MarshalJSON masks the token.
func (g GitConfig) MarshalJSON() ([]byte, error) {
	type alias GitConfig
	a := alias(g)
	a.Token = maskSecret(a.Token)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal git config: %w", err)
	}
	return data, nil
}

// DatabaseConfig controls the database toolset and the audit event
// store. An empty URL disables both; db tools then report that the
// database is not configured.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" json:"url"` // SENSITIVE: masked in MarshalJSON
	AuditEnabled bool   `mapstructure:"audit_enabled" json:"audit_enabled"`
}

// Enabled reports whether a database connection is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// MarshalJSON masks the connection string, which may embed a password.
func (d DatabaseConfig) MarshalJSON() ([]byte, error) {
	type alias DatabaseConfig
	a := alias(d)
	a.URL = maskSecret(a.URL)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal database config: %w", err)
	}
	return data, nil
}

// AIConfig controls the AI toolset.
type AIConfig struct {
	Model string `mapstructure:"model" json:"model"`
}

// APIKey returns the Gemini API key from the environment. The key
// never passes through Viper so it cannot leak via config dumps.
func (a AIConfig) APIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

// Enabled reports whether AI tools can run.
func (a AIConfig) Enabled() bool {
	return a.APIKey() != ""
}
