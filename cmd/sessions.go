package cmd

import (
	"context"
	"fmt"

	"github.com/arunsv/persona/internal/config"
	"github.com/arunsv/persona/internal/log"
	"github.com/arunsv/persona/internal/session"
)

// runSessions handles the sessions subcommands.
func runSessions(ctx context.Context, cfg *config.Config, logger log.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: persona sessions list <uid> | delete <sid>")
	}

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := session.NewStore(pool, logger)

	switch args[0] {
	case "list":
		summaries, err := store.List(ctx, args[1])
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, s := range summaries {
			fmt.Printf("%s  updated %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	case "delete":
		if err := store.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted session %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown sessions subcommand %q", args[0])
	}
}
