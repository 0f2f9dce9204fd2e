// Package cmd implements the persona command-line interface.
//
// Commands:
//
//	serve     start the HTTP API server (default)
//	index     index markdown documents into the knowledge base
//	sessions  inspect and delete stored sessions
//	version   print version information
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arunsv/persona/internal/config"
	"github.com/arunsv/persona/internal/database"
	"github.com/arunsv/persona/internal/llm"
	"github.com/arunsv/persona/internal/log"
)

// Execute is the main entry point for the persona CLI. It handles flag
// parsing, command routing and shared initialization, leaving main.go as
// a minimal shim.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}

	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		return runServe(ctx, cfg, logger)
	case "index":
		return runIndex(ctx, cfg, logger, os.Args[2:])
	case "sessions":
		return runSessions(ctx, cfg, logger, os.Args[2:])
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", command)
	}
}

// initLogger builds the process logger. DEBUG (any value) enables debug
// level; PERSONA_LOG_JSON switches to JSON output for log collectors.
func initLogger() log.Logger {
	return log.New(log.Config{
		Level: logLevel(),
		JSON:  os.Getenv("PERSONA_LOG_JSON") != "",
	})
}

func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openDatabase migrates the schema and opens the connection pool.
func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	url := cfg.DatabaseURL()
	if err := database.Migrate(url); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// newLLMClient builds the OpenRouter client from configuration.
func newLLMClient(cfg *config.Config, logger log.Logger) (*llm.Client, error) {
	return llm.New(llm.Config{
		APIKey:        cfg.OpenRouterAPIKey,
		BaseURL:       cfg.OpenRouterBaseURL,
		Model:         cfg.Model,
		EmbedderModel: cfg.EmbedderModel,
		Logger:        logger,
	})
}

func printHelp() {
	fmt.Print(`persona - personal conversational agent

Usage:
  persona [command]

Commands:
  serve              Start the HTTP API server (default)
  index <file>...    Index markdown documents into the knowledge base
  sessions list <uid>    List a user's sessions
  sessions delete <sid>  Delete a session
  version            Print version information
  help               Show this help

Environment:
  OPENROUTER_API_KEY   API key for model access (required)
  DEBUG                Enable debug logging
  PERSONA_LOG_JSON     Log in JSON format
`)
}
