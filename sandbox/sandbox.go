// Package sandbox decides which model-requested commands and browser
// destinations may run. Every predicate is deny-by-default.
package sandbox

import (
	"net/url"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
)

// allowedCommands holds the lower-cased command names permitted per kind.
var allowedCommands = map[core.CommandKind][]string{
	core.CommandShell: {
		"dir", "echo", "ping", "ipconfig", "systeminfo", "tasklist",
		"whoami", "hostname", "ver", "tree", "type", "where",
	},
	core.CommandPowerShell: {
		"get-process", "get-service", "get-date", "get-childitem", "get-location",
		"get-computerinfo", "get-netipaddress", "test-connection", "write-output",
	},
}

// DefaultTrustedDomains are the destinations open_browser may reach.
var DefaultTrustedDomains = []string{
	"github.com",
	"google.com",
	"wikipedia.org",
	"youtube.com",
	"stackoverflow.com",
	"go.dev",
	"openweathermap.org",
	"newsapi.org",
}

// Metacharacters that chain, redirect or substitute commands.
var forbiddenSequences = []string{"&", "|", ";", ">", "<", "`", "$(", "\n", "\r"}

// PowerShell evaluates grouping, subexpressions, script blocks and variables
// inside arguments, so those are denied for ps as well.
var forbiddenPowerShell = []string{"(", ")", "@(", "{", "}", "$"}

// Sandbox evaluates allow-lists. Results are memoized in a bounded cache
// owned by the instance.
type Sandbox struct {
	domains []string
	cache   *ristretto.Cache
}

// Option configures a Sandbox.
type Option func(*options)

type options struct {
	cacheSize int64
	domains   []string
}

// WithCacheSize bounds the number of memoized decisions.
func WithCacheSize(n int64) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithTrustedDomains replaces the default trusted destination list.
func WithTrustedDomains(domains ...string) Option {
	return func(o *options) {
		o.domains = domains
	}
}

// New creates a Sandbox.
func New(opts ...Option) (*Sandbox, error) {
	o := &options{cacheSize: 1024, domains: DefaultTrustedDomains}
	for _, opt := range opts {
		opt(o)
	}
	if o.cacheSize < 1 {
		o.cacheSize = 1
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        o.cacheSize * 10,
		MaxCost:            o.cacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create sandbox cache")
	}

	domains := make([]string, 0, len(o.domains))
	for _, d := range o.domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			domains = append(domains, d)
		}
	}

	return &Sandbox{domains: domains, cache: cache}, nil
}

// Close releases the memo cache.
func (s *Sandbox) Close() {
	s.cache.Close()
}

// IsCommandAllowed reports whether command may run as the given kind.
func (s *Sandbox) IsCommandAllowed(kind core.CommandKind, command string) bool {
	return s.memo("cmd\x00"+string(kind)+"\x00"+command, func() bool {
		return commandAllowed(kind, command)
	})
}

// IsDestinationAllowed reports whether rawURL points at a trusted domain or
// one of its subdomains.
func (s *Sandbox) IsDestinationAllowed(rawURL string) bool {
	return s.memo("url\x00"+rawURL, func() bool {
		return destinationAllowed(s.domains, rawURL)
	})
}

// CheckCommand is IsCommandAllowed in error form.
func (s *Sandbox) CheckCommand(kind core.CommandKind, command string) error {
	if s.IsCommandAllowed(kind, command) {
		return nil
	}
	return goerr.Wrap(core.ErrSecurityDenied, "command not in allow-list",
		goerr.V(core.KindKey, string(kind)), goerr.V(core.PayloadKey, command))
}

// CheckDestination is IsDestinationAllowed in error form.
func (s *Sandbox) CheckDestination(rawURL string) error {
	if s.IsDestinationAllowed(rawURL) {
		return nil
	}
	return goerr.Wrap(core.ErrSecurityDenied, "destination not trusted",
		goerr.V(core.PayloadKey, rawURL))
}

func (s *Sandbox) memo(key string, eval func() bool) bool {
	if v, ok := s.cache.Get(key); ok {
		if allowed, ok := v.(bool); ok {
			return allowed
		}
	}
	allowed := eval()
	s.cache.Set(key, allowed, 1)
	return allowed
}

func commandAllowed(kind core.CommandKind, command string) bool {
	names, ok := allowedCommands[kind]
	if !ok {
		return false
	}

	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		return false
	}
	if containsAny(cmd, forbiddenSequences) {
		return false
	}
	if kind == core.CommandPowerShell && containsAny(cmd, forbiddenPowerShell) {
		return false
	}

	first := strings.Fields(cmd)[0]
	for _, name := range names {
		if first == name {
			return true
		}
	}
	return false
}

func containsAny(s string, seqs []string) bool {
	for _, seq := range seqs {
		if strings.Contains(s, seq) {
			return true
		}
	}
	return false
}

func destinationAllowed(domains []string, rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}

	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
