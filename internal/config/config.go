// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.persona/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: chat model, embedding model, OpenRouter endpoint
//   - Storage: PostgreSQL connection
//   - Knowledge: knowledge-base description and metadata filter sections
//   - MCP: remote tool catalog endpoints
//   - Serve: listen address, CORS origins
//
// Security: sensitive values (API key, database password) are masked in
// MarshalJSON/String so they never leak into logs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the OpenRouter API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the chat model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedding model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidBaseURL indicates the OpenRouter base URL is malformed.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidMCPServer indicates a remote tool catalog URL is malformed.
	ErrInvalidMCPServer = errors.New("invalid MCP server")

	// ErrInvalidMaxRounds indicates the tool-loop bound is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")
)

// MCPServer describes one remote tool catalog endpoint.
type MCPServer struct {
	// URL is the streamable HTTP endpoint of the MCP server.
	URL string `mapstructure:"url" json:"url"`

	// Instructions is optional free-text usage guidance folded into the
	// agent's system prompt once at startup.
	Instructions string `mapstructure:"instructions" json:"instructions"`
}

// Knowledge configures the knowledge base exposed to the agent.
type Knowledge struct {
	// Description is the human-readable summary advertised in the system prompt.
	Description string `mapstructure:"description" json:"description"`

	// Sections enumerate the allowed values of the `section` metadata field.
	// When non-empty, indexing extracts a section tag per synthesized
	// question and search accepts a matching filter.
	Sections []string `mapstructure:"sections" json:"sections"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI configuration
	Model             string `mapstructure:"model" json:"model"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	OpenRouterAPIKey  string `mapstructure:"openrouter_api_key" json:"openrouter_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenRouterBaseURL string `mapstructure:"openrouter_base_url" json:"openrouter_base_url"`

	// Orchestration
	MaxRounds int `mapstructure:"max_rounds" json:"max_rounds"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Knowledge base
	Knowledge Knowledge `mapstructure:"knowledge" json:"knowledge"`

	// Remote tool catalogs
	MCPServers []MCPServer `mapstructure:"mcp_servers" json:"mcp_servers"`

	// Serve configuration
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".persona")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("model", "openai/gpt-4o-mini")
	v.SetDefault("embedder_model", "openai/text-embedding-3-small")
	v.SetDefault("openrouter_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("max_rounds", 10)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "persona")
	v.SetDefault("postgres_password", "persona_dev_password")
	v.SetDefault("postgres_db_name", "persona")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Knowledge defaults
	v.SetDefault("knowledge.description",
		"Personal knowledge base covering Arun's background, projects, work and goals.")
	v.SetDefault("knowledge.sections", []string{
		"personal", "education", "projects", "work", "productivity", "goals", "philosophy",
	})

	// Serve defaults
	v.SetDefault("addr", "127.0.0.1:3500")
	v.SetDefault("cors_origins", []string{"http://localhost:8080"})
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openrouter_api_key", "OPENROUTER_API_KEY")
	mustBind("openrouter_base_url", "OPENROUTER_BASE_URL")
	mustBind("model", "PERSONA_MODEL")
	mustBind("embedder_model", "PERSONA_EMBEDDER_MODEL")
	mustBind("addr", "PERSONA_ADDR")
	mustBind("cors_origins", "PERSONA_CORS_ORIGINS")
	mustBind("postgres_host", "PERSONA_POSTGRES_HOST")
	mustBind("postgres_port", "PERSONA_POSTGRES_PORT")
	mustBind("postgres_user", "PERSONA_POSTGRES_USER")
	mustBind("postgres_password", "PERSONA_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "PERSONA_POSTGRES_DB")
	mustBind("postgres_ssl_mode", "PERSONA_POSTGRES_SSL_MODE")
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenRouterAPIKey = maskSecret(a.OpenRouterAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
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
