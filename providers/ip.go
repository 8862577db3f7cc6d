package providers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/becomeliminal/nim-assistant/logging"
)

const (
	// DefaultIPURL returns the caller's public IP as plain text.
	DefaultIPURL = "https://api.ipify.org"

	UnknownIP = "unknown"
)

// PublicIP looks up the public address of this machine. Any failure yields
// UnknownIP.
func PublicIP(ctx context.Context, hc *http.Client, endpoint string, logger *slog.Logger) string {
	if endpoint == "" {
		endpoint = DefaultIPURL
	}
	body, err := get(ctx, newHTTPClient(hc), endpoint, nil)
	if err != nil {
		logging.Component(logger, "ip").Warn("public IP lookup failed", "error", err)
		return UnknownIP
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return UnknownIP
	}
	return ip
}
