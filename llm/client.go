// Package llm queries a completion provider with a reusable session and a
// bounded retry policy.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/logging"
	"github.com/becomeliminal/nim-assistant/tools"
)

var (
	// ErrRejected reports a non-retryable 4xx answer from the provider.
	ErrRejected = goerr.New("completion request rejected")

	// ErrClosed is returned by Query after Close.
	ErrClosed = goerr.New("llm client closed")

	errRetryable = goerr.New("retryable provider failure")
)

// Defaults of the retry and timeout policy.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
	DefaultTimeout  = 30 * time.Second
)

type session interface {
	complete(ctx context.Context, msgs []Message, defs []tools.Definition) (*Completion, error)
	close()
}

// Client owns one session to the provider selected by its Profile.
type Client struct {
	profile      Profile
	logger       *slog.Logger
	attempts     int
	delay        time.Duration
	timeout      time.Duration
	systemPrompt string
	now          func() time.Time
	httpClient   *http.Client

	mu      sync.Mutex
	session session
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.Component(l, "llm")
	}
}

// WithRetry sets the number of attempts and the fixed delay between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if delay >= 0 {
			c.delay = delay
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		if prompt != "" {
			c.systemPrompt = prompt
		}
	}
}

// WithClock overrides time.Now for the context block.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithHTTPClient sets the HTTP client used by sessions.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client. The session is opened on first use.
func New(profile Profile, opts ...Option) (*Client, error) {
	switch profile.(type) {
	case LocalProfile, HostedProfile:
	case nil:
		return nil, goerr.Wrap(core.ErrConfiguration, "llm profile is required")
	default:
		return nil, goerr.Wrap(core.ErrConfiguration, "unknown llm profile",
			goerr.V(core.KindKey, profile.Kind()))
	}

	c := &Client{
		profile:      profile,
		logger:       logging.Component(logging.Discard(), "llm"),
		attempts:     DefaultAttempts,
		delay:        DefaultDelay,
		timeout:      DefaultTimeout,
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Profile returns the configured profile.
func (c *Client) Profile() Profile {
	return c.profile
}

// Query sends req and returns the provider's completion. Transient failures
// are retried with a fresh session; configuration errors and rejections
// return immediately.
func (c *Client) Query(ctx context.Context, req Request) (*Completion, error) {
	msgs := buildMessages(c.systemPrompt, req, c.now())

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		sess, err := c.acquire()
		if err != nil {
			return nil, err
		}

		start := time.Now()
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		comp, err := sess.complete(actx, msgs, req.Tools)
		cancel()

		if err == nil {
			c.logger.Debug("completion received",
				"profile", c.profile.Kind(),
				"attempt", attempt,
				"elapsed", time.Since(start).Round(time.Millisecond),
				"tool_calls", len(comp.ToolCalls))
			return comp, nil
		}
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "completion cancelled")
		}
		if !errors.Is(err, errRetryable) {
			c.logger.Error("completion failed", "error", err, "attempt", attempt)
			return nil, err
		}

		lastErr = err
		c.logger.Warn("completion attempt failed",
			"error", err, "attempt", attempt, "attempts", c.attempts)
		c.reset()

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, goerr.Wrap(ctx.Err(), "completion cancelled")
		case <-time.After(c.delay):
		}
	}

	return nil, goerr.Wrap(core.ErrTransientProvider, "completion failed after retries",
		goerr.V(core.AttemptKey, c.attempts), goerr.V("cause", lastErr.Error()))
}

// acquire returns the live session, creating it on first use.
func (c *Client) acquire() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.session != nil {
		return c.session, nil
	}
	if err := c.profile.validate(); err != nil {
		return nil, err
	}

	switch p := c.profile.(type) {
	case LocalProfile:
		c.session = newLocalSession(p, c.httpClient)
	case HostedProfile:
		c.session = newHostedSession(p, c.httpClient)
	}
	c.logger.Debug("session created", "profile", c.profile.Kind())
	return c.session, nil
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.close()
		c.session = nil
	}
}

// Close tears down the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.close()
		c.session = nil
	}
	c.closed = true
	return nil
}
