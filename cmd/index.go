package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/arunsv/persona/internal/config"
	"github.com/arunsv/persona/internal/knowledge"
	"github.com/arunsv/persona/internal/log"
)

// runIndex indexes one or more markdown files into the knowledge base.
func runIndex(ctx context.Context, cfg *config.Config, logger log.Logger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: persona index <file>...")
	}

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

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}

		indexed, err := engine.Index(ctx, path, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		fmt.Printf("%s: %d chunks indexed\n", path, indexed)
	}

	return nil
}
