// Package cli is the nim-assistant command line.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/logging"
)

// globals holds the root flags and what Before derives from them.
type globals struct {
	configPath string
	logLevel   string
	logFile    string
	envFile    string

	logger  *slog.Logger
	logSink *os.File
}

func (g *globals) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config.yaml",
			Value:       "config.yaml",
			Sources:     cli.EnvVars("NIM_CONFIG"),
			Destination: &g.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("NIM_LOG_LEVEL"),
			Destination: &g.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Also write JSON logs to this file",
			Sources:     cli.EnvVars("NIM_LOG_FILE"),
			Destination: &g.logFile,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "Load environment variables from this file",
			Value:       ".env",
			Destination: &g.envFile,
		},
	}
}

func (g *globals) setup() error {
	if err := config.LoadEnvFile(g.envFile); err != nil {
		return err
	}

	opts := logging.Options{Level: g.logLevel}
	if g.logFile != "" {
		f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return goerr.Wrap(err, "failed to open log file", goerr.V("path", g.logFile))
		}
		g.logSink = f
		opts.File = f
	}

	logger, err := logging.New(opts)
	if err != nil {
		return goerr.Wrap(err, "invalid log level", goerr.V("level", g.logLevel))
	}
	g.logger = logger
	return nil
}

func (g *globals) teardown() {
	if g.logSink != nil {
		_ = g.logSink.Close()
	}
}

// loadConfig reads and validates the configuration.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Warn(g.logger)
	return cfg, nil
}

func newApp(g *globals, version string) *cli.Command {
	return &cli.Command{
		Name:    "nim-assistant",
		Usage:   "Conversational assistant with semantic memory and sandboxed tools",
		Version: version,
		Flags:   g.flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := g.setup(); err != nil {
				return ctx, err
			}
			g.logger.Debug("starting nim-assistant", "version", version, "config", g.configPath)
			return logging.With(ctx, g.logger), nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			g.teardown()
			return nil
		},
		Commands: []*cli.Command{
			cmdChat(g),
			cmdServe(g),
			cmdMemory(g),
			cmdConfig(g),
		},
	}
}

// Run executes the command line.
func Run(ctx context.Context, args []string, version string) error {
	g := &globals{}
	if err := newApp(g, version).Run(ctx, args); err != nil {
		logger := g.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("failed to run nim-assistant", "error", err)
		return err
	}
	return nil
}
