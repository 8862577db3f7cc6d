package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-assistant/engine"
	"github.com/becomeliminal/nim-assistant/providers"
)

func cmdChat(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the assistant in the terminal",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			console := providers.NewConsole(os.Stdin, c.Root().Writer)
			a, err := newAssistant(ctx, cfg, g.logger, console)
			if err != nil {
				return goerr.Wrap(err, "failed to start assistant")
			}
			defer a.Close()

			return chatLoop(ctx, a.engine, console, c.Root().Writer, g.logger)
		},
	}
}

// lineReader reads one line of user input.
type lineReader interface {
	ReadLine() (string, error)
}

// responder is the part of the engine the REPL needs.
type responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

var _ responder = (*engine.Engine)(nil)

// chatLoop reads lines until EOF, "exit" or "quit" and prints each answer.
func chatLoop(ctx context.Context, r responder, in lineReader, out io.Writer, logger *slog.Logger) error {
	fmt.Fprintln(out, "Type 'exit' to quit.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "You: ")

		line, err := in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return goerr.Wrap(err, "failed to read input")
		}

		text := strings.TrimSpace(line)
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		answer, err := r.Respond(ctx, text)
		if err != nil {
			logger.Warn("turn failed", "error", err)
		}
		if answer != "" {
			fmt.Fprintf(out, "Nim: %s\n", answer)
		}
	}
}
