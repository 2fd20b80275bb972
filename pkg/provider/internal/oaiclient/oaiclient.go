// Package oaiclient builds openai-go clients for the OpenAI-backed providers,
// covering both api.openai.com (or a compatible base URL) and Azure OpenAI.
package oaiclient

import (
	"errors"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// DefaultAzureAPIVersion is used when an Azure endpoint is set without a
// version.
const DefaultAzureAPIVersion = "2024-10-21"

// Config describes how to reach the API.
type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	Timeout      time.Duration

	// AzureEndpoint switches the client to Azure OpenAI, e.g.
	// "https://my-resource.openai.azure.com".
	AzureEndpoint   string
	AzureAPIVersion string

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// New returns a client for cfg.
func New(cfg Config) (oai.Client, error) {
	if cfg.APIKey == "" {
		return oai.Client{}, errors.New("apiKey must not be empty")
	}

	var opts []option.RequestOption
	if cfg.AzureEndpoint != "" {
		version := cfg.AzureAPIVersion
		if version == "" {
			version = DefaultAzureAPIVersion
		}
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, version),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.Timeout > 0:
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return oai.NewClient(opts...), nil
}

// Option mutates a Config. The provider packages re-export these as their
// own functional options.
type Option func(*Config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

// WithOrganization sets the organization header.
func WithOrganization(org string) Option { return func(c *Config) { c.Organization = org } }

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithAzure targets an Azure OpenAI resource.
func WithAzure(endpoint, apiVersion string) Option {
	return func(c *Config) {
		c.AzureEndpoint = endpoint
		c.AzureAPIVersion = apiVersion
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Config) { c.HTTPClient = hc } }
