package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks configuration values for correctness. It is called by
// Load after unmarshalling and can be called directly on hand-built
// configurations in tests.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		return fmt.Errorf("%w: set OPENROUTER_API_KEY", ErrMissingAPIKey)
	}

	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidModelName)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}

	if err := validateHTTPURL(c.OpenRouterBaseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}

	if c.MaxRounds < 1 || c.MaxRounds > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidMaxRounds, c.MaxRounds)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}

	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	for i, srv := range c.MCPServers {
		if err := validateHTTPURL(srv.URL); err != nil {
			return fmt.Errorf("%w: mcp_servers[%d]: %v", ErrInvalidMCPServer, i, err)
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("URL must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL host must not be empty")
	}
	return nil
}
