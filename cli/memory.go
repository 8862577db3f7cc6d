package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-assistant/memory/store/sqlite"
)

func cmdMemory(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect or reset the persisted memory",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show how many memories are stored",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := g.loadConfig()
					if err != nil {
						return err
					}
					db, err := sqlite.New(ctx, cfg.MemoryDB)
					if err != nil {
						return err
					}
					defer db.Close()

					n, err := db.Count(ctx)
					if err != nil {
						return err
					}
					w := c.Root().Writer
					fmt.Fprintf(w, "database:  %s\n", cfg.MemoryDB)
					fmt.Fprintf(w, "stored:    %d\n", n)
					fmt.Fprintf(w, "capacity:  %d\n", cfg.MaxVectors)
					fmt.Fprintf(w, "embedder:  %s\n", cfg.Embedder)
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every persisted memory",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := g.loadConfig()
					if err != nil {
						return err
					}
					db, err := sqlite.New(ctx, cfg.MemoryDB)
					if err != nil {
						return err
					}
					defer db.Close()

					n, err := db.Count(ctx)
					if err != nil {
						return err
					}
					if err := db.Truncate(ctx); err != nil {
						return err
					}
					g.logger.Info("memory cleared", "path", cfg.MemoryDB, "removed", n)
					fmt.Fprintf(c.Root().Writer, "removed %d memories from %s\n", n, cfg.MemoryDB)
					return nil
				},
			},
		},
	}
}
