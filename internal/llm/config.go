package llm

import (
	"fmt"
)

const (
	DefaultAPIURL    = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 120
)

// Config holds the configuration for the LLM client.
// Any OpenAI compatible chat completions endpoint works (OpenAI, OpenRouter,
// local gateways).
//
// Environment Variables (see internal/config):
// - LLM_API_KEY / OPENAI_API_KEY: API key (required)
// - LLM_API_URL: API base URL (default: https://api.openai.com/v1)
// - LLM_MODEL: default model (default: gpt-4o-mini)
// - LLM_MAX_TOKENS: maximum tokens per response (default: 4096)
// - LLM_TEMPERATURE: sampling temperature (default: 0.3)
// - LLM_TIMEOUT: request timeout in seconds (default: 120)
// - LLM_SITE_URL: HTTP-Referer header (optional)
// - LLM_APP_NAME: X-Title header (optional)
type Config struct {
	APIKey      string  `json:"api_key" toml:"api_key"`
	APIURL      string  `json:"api_url" toml:"api_url"`
	Model       string  `json:"model" toml:"model"`
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens"`
	Temperature float64 `json:"temperature" toml:"temperature"`
	Timeout     int     `json:"timeout" toml:"timeout"`
	SiteURL     string  `json:"site_url" toml:"site_url"`
	AppName     string  `json:"app_name" toml:"app_name"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
