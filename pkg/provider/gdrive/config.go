// Package gdrive implements the provider interface for Google Drive (API v3).
package gdrive

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Config configures a Google Drive provider.
//
// Authentication priority:
//  1. HTTPClient (used as-is; no OAuth is performed)
//  2. TokenSource (wrapped into an OAuth2 HTTP client)
//  3. ClientSecretsPath + TokenPath (installed-app flow, see Authenticate)
type Config struct {
	// ClientSecretsPath is the OAuth client secrets JSON downloaded from the
	// Google Cloud console.
	ClientSecretsPath string

	// TokenPath is where the OAuth token is cached between runs.
	TokenPath string

	// Endpoint overrides the Drive API base URL.
	// Leave empty for the public Google endpoint.
	Endpoint string

	// HTTPClient is an already-authenticated client.
	HTTPClient *http.Client

	// TokenSource supplies OAuth2 tokens directly.
	TokenSource oauth2.TokenSource

	// Prompt is shown the consent URL when an interactive login is needed.
	// Defaults to logging the URL.
	Prompt func(authURL string)

	// PageSize is the default page size for list requests.
	// Zero uses DefaultPageSize. Values over MaxPageSize are clamped.
	PageSize int

	// Logger receives authentication and request tracing.
	Logger *zap.Logger
}

// DefaultPageSize is the default page size for list requests.
const DefaultPageSize = 200

// MaxPageSize is the largest page size the tool requests from Drive.
const MaxPageSize = 200

// Default credential file locations, relative to the working directory.
const (
	DefaultClientSecretsPath = "client_secret.json"
	DefaultTokenPath         = "token.json"
)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.PageSize < 0 {
		return &ConfigError{Field: "PageSize", Message: "page size must not be negative"}
	}
	if c.HTTPClient != nil || c.TokenSource != nil {
		return nil
	}
	if c.ClientSecretsPath == "" {
		return &ConfigError{Field: "ClientSecretsPath", Message: "client secrets path is required"}
	}
	if c.TokenPath == "" {
		return &ConfigError{Field: "TokenPath", Message: "token path is required"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "gdrive config: " + e.Field + ": " + e.Message
}
