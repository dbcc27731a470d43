package provider

import (
	"net/http"
	"time"
)

// Config contains the settings of the OpenAI-compatible upstream
type Config struct {
	// BaseURL is the base URL of the API including the version path, e.g. "https://api.openai.com/v1"
	BaseURL string

	// APIKey is the authentication key
	APIKey string

	// Model is the default model name
	Model string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout is the total request timeout (optional, default: 60s)
	Timeout time.Duration

	// ConnectionPool settings
	MaxIdleConns        int           // Maximum idle connections (default: 100)
	MaxIdleConnsPerHost int           // Maximum idle connections per host (default: 10)
	IdleConnTimeout     time.Duration // Idle connection timeout (default: 90s)

	// Retry configuration
	RetryConfig *RetryConfig
}

// DefaultConfig returns a default upstream configuration
func DefaultConfig() *Config {
	return &Config{
		Model:               "gpt-4o-mini",
		Timeout:             60 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		RetryConfig:         DefaultRetryConfig(),
	}
}

// WithBaseURL sets the base URL
func (c *Config) WithBaseURL(baseURL string) *Config {
	c.BaseURL = baseURL
	return c
}

// WithAPIKey sets the API key
func (c *Config) WithAPIKey(apiKey string) *Config {
	c.APIKey = apiKey
	return c
}

// WithModel sets the default model
func (c *Config) WithModel(model string) *Config {
	c.Model = model
	return c
}

// WithTimeout sets the timeout
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRetryConfig sets the retry configuration
func (c *Config) WithRetryConfig(retryConfig *RetryConfig) *Config {
	c.RetryConfig = retryConfig
	return c
}

// WithHTTPClient sets the HTTP client
func (c *Config) WithHTTPClient(client *http.Client) *Config {
	c.HTTPClient = client
	return c
}

// GetHTTPClient returns the HTTP client, creating a default one if not set
func (c *Config) GetHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	transport := &http.Transport{
		MaxIdleConns:        c.MaxIdleConns,
		MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
		IdleConnTimeout:     c.IdleConnTimeout,
	}

	return &http.Client{
		Timeout:   c.Timeout,
		Transport: transport,
	}
}
