package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds client configuration values.
type Config struct {
	ServerURL         string        `mapstructure:"server_url" yaml:"server_url"`
	SessionCookie     string        `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionCookieName string        `mapstructure:"session_cookie_name" yaml:"session_cookie_name"`
	XSRFCookieName    string        `mapstructure:"xsrf_cookie_name" yaml:"xsrf_cookie_name"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:         "http://localhost:8888",
		SessionCookieName: "session",
		XSRFCookieName:    "_xsrf",
		RequestTimeout:    10 * time.Second,
		DialTimeout:       10 * time.Second,
		CloseTimeout:      5 * time.Second,
		MaxMessageBytes:   1 << 20,
		LogLevel:          "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.SessionCookie != "" {
		c.SessionCookie = other.SessionCookie
	}
	if other.SessionCookieName != "" {
		c.SessionCookieName = other.SessionCookieName
	}
	if other.XSRFCookieName != "" {
		c.XSRFCookieName = other.XSRFCookieName
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.DialTimeout != 0 {
		c.DialTimeout = other.DialTimeout
	}
	if other.CloseTimeout != 0 {
		c.CloseTimeout = other.CloseTimeout
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// Validate checks that the configuration can be used to reach a server.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url has no host: %q", c.ServerURL)
	}
	if c.XSRFCookieName == "" {
		return fmt.Errorf("xsrf_cookie_name must not be empty")
	}
	return nil
}
