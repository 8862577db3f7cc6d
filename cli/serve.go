package cli

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/server"
)

func cmdServe(g *globals) *cli.Command {
	var addr string
	var healthAddr string

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the assistant over websocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Chat server address",
				Value:       "127.0.0.1:8080",
				Sources:     cli.EnvVars("NIM_ADDR"),
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "health-addr",
				Usage:       "gRPC health server address (empty disables it)",
				Value:       "127.0.0.1:9090",
				Sources:     cli.EnvVars("NIM_HEALTH_ADDR"),
				Destination: &healthAddr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := checkExposure(addr, cfg.Secrets.AuthToken); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newAssistant(ctx, cfg, g.logger, nil)
			if err != nil {
				return goerr.Wrap(err, "failed to start assistant")
			}
			defer a.Close()

			opts := []server.Option{server.WithLogger(g.logger)}
			if cfg.Secrets.AuthToken != "" {
				opts = append(opts, server.WithAuthToken(cfg.Secrets.AuthToken))
			}

			if err := server.New(a.engine, opts...).ListenAndServe(ctx, addr, healthAddr); err != nil {
				return goerr.Wrap(err, "server stopped with error")
			}
			g.logger.Info("server shutdown completed")
			return nil
		},
	}
}

// checkExposure refuses to serve the chat endpoint beyond loopback without an
// auth token, since chat turns can run commands.
func checkExposure(addr, authToken string) error {
	if authToken != "" || isLoopback(addr) {
		return nil
	}
	return goerr.Wrap(core.ErrConfiguration, "auth_token is required to listen on a non-loopback address",
		goerr.V("addr", addr))
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
