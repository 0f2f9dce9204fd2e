package cmd

import (
	"context"
	"fmt"

	"github.com/arunsv/persona/api"
	"github.com/arunsv/persona/internal/agent"
	"github.com/arunsv/persona/internal/config"
	"github.com/arunsv/persona/internal/knowledge"
	"github.com/arunsv/persona/internal/log"
	"github.com/arunsv/persona/internal/session"
	"github.com/arunsv/persona/internal/tools"
)

// runServe wires all components and runs the HTTP server until the
// context is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	engine, err := knowledge.NewEngine(knowledge.Config{
		Description: cfg.Knowledge.Description,
		Sections:    cfg.Knowledge.Sections,
		Store:       knowledge.NewStore(pool, logger),
		Completer:   client,
		Embedder:    client,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sessions := session.NewStore(pool, logger)

	servers := make([]tools.Server, 0, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		servers = append(servers, tools.Server{
			URL:          s.URL,
			Instructions: s.Instructions,
		})
	}

	ag, err := agent.New(agent.Config{
		Generator:  client,
		Sessions:   sessions,
		Knowledge:  engine,
		LocalTools: []tools.Tool{tools.Clock()},
		MCPServers: servers,
		MaxRounds:  cfg.MaxRounds,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := ag.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing agent: %w", err)
	}
	defer func() {
		if err := ag.Close(); err != nil {
			logger.Warn("closing agent", "error", err)
		}
	}()

	server := api.NewServer(api.Config{
		Chatter:     ag,
		Sessions:    sessions,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	return server.Run(ctx, cfg.Addr)
}
