package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/core"
)

func cmdConfig(g *globals) *cli.Command {
	var output string
	var force bool

	return &cli.Command{
		Name:  "config",
		Usage: "Manage config.yaml",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a config template with the default settings",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Usage:       "Where to write the template (default: --config)",
						Destination: &output,
					},
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "Overwrite an existing file",
						Destination: &force,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					path := output
					if path == "" {
						path = g.configPath
					}
					if _, err := os.Stat(path); err == nil && !force {
						return goerr.Wrap(core.ErrConfiguration, "config file already exists, use --force to overwrite",
							goerr.V("path", path))
					} else if err != nil && !errors.Is(err, os.ErrNotExist) {
						return goerr.Wrap(err, "failed to stat config", goerr.V("path", path))
					}

					if err := config.Default().WriteTemplate(path); err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "wrote %s\n", path)
					return nil
				},
			},
		},
	}
}
