// Package engine turns model completions into the assistant's answer. It
// resolves information needs with a second model pass, dispatches tool
// calls and runs sandboxed commands.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/llm"
	"github.com/becomeliminal/nim-assistant/logging"
	"github.com/becomeliminal/nim-assistant/memory"
	"github.com/becomeliminal/nim-assistant/tools"
)

// LLM is the completion client used by the engine.
type LLM interface {
	Query(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Memory is the semantic memory used by the engine.
type Memory interface {
	Add(ctx context.Context, text string) (memory.Record, error)
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// Guard decides which commands and destinations may be used. A denial is
// reported as an error wrapping core.ErrSecurityDenied.
type Guard interface {
	CheckCommand(kind core.CommandKind, command string) error
	CheckDestination(rawURL string) error
}

// Fetcher retrieves data for a need kind or data tool.
type Fetcher interface {
	Fetch(ctx context.Context, query string) (string, error)
}

// Prompter asks the user a question.
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// Defaults.
const (
	DefaultMaxDepth       = 3
	DefaultCommandTimeout = 5 * time.Second
	DefaultMemoryResults  = 5
)

// Engine runs conversation turns. Turns are serialized.
type Engine struct {
	llm   LLM
	store Memory
	guard Guard

	fetchers       map[string]Fetcher
	prompter       Prompter
	runner         Runner
	navigator      Navigator
	maxDepth       int
	commandTimeout time.Duration
	identity       string
	logger         *slog.Logger
	dynamic        map[string]bool
	python         bool
	recordTurns    bool
	tools          []tools.Definition

	mu sync.Mutex
	wg sync.WaitGroup
}

// Option configures the engine.
type Option func(*Engine)

// WithFetcher registers f for a need kind (NeedWeather, NeedWiki, NeedNews).
// The matching data tool uses the same fetcher.
func WithFetcher(kind string, f Fetcher) Option {
	return func(e *Engine) {
		e.fetchers[kind] = f
	}
}

// WithPrompter sets the prompter used for "input" needs.
func WithPrompter(p Prompter) Option {
	return func(e *Engine) {
		e.prompter = p
	}
}

// WithRunner replaces ExecRunner.
func WithRunner(r Runner) Option {
	return func(e *Engine) {
		e.runner = r
	}
}

// WithNavigator replaces BrowserNavigator.
func WithNavigator(n Navigator) Option {
	return func(e *Engine) {
		e.navigator = n
	}
}

// WithMaxDepth bounds the number of nested second passes in one turn.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithCommandTimeout bounds each command run.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.commandTimeout = d
		}
	}
}

// WithNetworkIdentity sets the address reported to the model.
func WithNetworkIdentity(id string) Option {
	return func(e *Engine) {
		e.identity = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.Component(l, "engine")
	}
}

// WithDynamicTools replaces tools.DefaultDynamic.
func WithDynamicTools(names ...string) Option {
	return func(e *Engine) {
		e.dynamic = toSet(names)
	}
}

// WithPython enables the python_code tool.
func WithPython(enabled bool) Option {
	return func(e *Engine) {
		e.python = enabled
	}
}

// WithTurnRecording stores each user input in memory after the turn.
func WithTurnRecording(enabled bool) Option {
	return func(e *Engine) {
		e.recordTurns = enabled
	}
}

// New creates an engine. store may be nil.
func New(client LLM, store Memory, guard Guard, opts ...Option) *Engine {
	e := &Engine{
		llm:            client,
		store:          store,
		guard:          guard,
		fetchers:       map[string]Fetcher{},
		runner:         ExecRunner{},
		navigator:      BrowserNavigator{},
		maxDepth:       DefaultMaxDepth,
		commandTimeout: DefaultCommandTimeout,
		identity:       "unknown",
		logger:         logging.Component(logging.Discard(), "engine"),
		dynamic:        toSet(tools.DefaultDynamic),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tools = tools.Definitions(e.python)
	return e
}

// Input is one user turn.
type Input struct {
	Text string

	// TurnID correlates log lines. Empty generates one.
	TurnID string
}

// turn carries per-turn state through the interpreter.
type turn struct {
	id       string
	prompt   string
	memories []string
	logger   *slog.Logger
}

// Respond runs one turn for text.
func (e *Engine) Respond(ctx context.Context, text string) (string, error) {
	return e.RespondTo(ctx, &Input{Text: text})
}

// RespondTo runs one turn. When the first completion fails it returns
// FallbackText together with the error.
func (e *Engine) RespondTo(ctx context.Context, in *Input) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", goerr.Wrap(core.ErrValidation, "input text is empty")
	}

	t := &turn{id: in.TurnID, prompt: text}
	if t.id == "" {
		t.id = uuid.NewString()
	}
	t.logger = e.logger.With("turn", t.id)
	ctx = logging.With(ctx, t.logger)

	if e.store != nil {
		memories, err := e.store.Search(ctx, text, DefaultMemoryResults)
		if err != nil {
			t.logger.Warn("memory search failed, continuing without memories", "error", err)
		} else {
			t.memories = memories
			t.logger.Debug("retrieved memories", "count", len(memories))
		}
	}

	comp, err := e.llm.Query(ctx, e.request(t, "", ""))
	if err != nil {
		t.logger.Error("first completion failed", "error", err)
		return FallbackText, goerr.Wrap(err, "first completion failed")
	}

	answer := e.interpret(ctx, t, comp, 0)

	if e.recordTurns && e.store != nil {
		if _, err := e.store.Add(ctx, text); err != nil {
			t.logger.Warn("failed to record turn", "error", err)
		}
	}

	t.logger.Info("turn complete", "memories", len(t.memories))
	return answer, nil
}

// Close waits for background browser launches.
func (e *Engine) Close() {
	e.wg.Wait()
}

// Tools returns the tool definitions offered to the model.
func (e *Engine) Tools() []tools.Definition {
	return e.tools
}

func (e *Engine) request(t *turn, answer, followUp string) llm.Request {
	return llm.Request{
		Prompt:          t.prompt,
		Memories:        t.memories,
		NetworkIdentity: e.identity,
		Answer:          answer,
		FollowUp:        followUp,
		Tools:           e.tools,
	}
}

// interpret is the entry state for a completion at depth.
func (e *Engine) interpret(ctx context.Context, t *turn, comp *llm.Completion, depth int) string {
	if comp.HasToolCalls() {
		return e.dispatchTools(ctx, t, comp, depth)
	}

	env, err := ParseEnvelope(CleanOutput(comp.Text))
	if err != nil {
		t.logger.Warn("invalid envelope", "error", err, "depth", depth)
		return InvalidResponseText
	}
	return e.execute(ctx, t, env, comp.Text, depth)
}

// execute runs the need and command branches of env. answer is the
// completion text env was decoded from.
func (e *Engine) execute(ctx context.Context, t *turn, env Envelope, answer string, depth int) string {
	var need, command Directive
	var err error
	if env.Need != "" {
		if need, err = ParseDirective(env.Need); err != nil {
			t.logger.Warn("invalid need", "error", err)
			return InvalidNeedText
		}
	}
	if env.Commands != "" {
		if command, err = ParseDirective(env.Commands); err != nil {
			t.logger.Warn("invalid command", "error", err)
			return InvalidCommandText
		}
	}

	response := env.Response
	if env.Need != "" {
		data := e.fetchNeed(ctx, t, need)
		if data != "" {
			if depth >= e.maxDepth {
				t.logger.Warn("need depth exceeded",
					"error", goerr.Wrap(core.ErrDepthExceeded, "need not resolved",
						goerr.V(core.DepthKey, depth), goerr.V(core.KindKey, need.Kind)))
				return DepthExceededText
			}
			response = e.secondPass(ctx, t, answer, data, depth, response)
		}
	}

	var diagnostic string
	if env.Commands != "" {
		diagnostic = e.runCommand(ctx, t, core.CommandRequest{
			Kind:    core.CommandKind(command.Kind),
			Payload: command.Argument,
		})
	}
	return joinLines(response, diagnostic)
}

// secondPass re-queries the model with fetched data and interprets the new
// completion at depth+1. fallback is returned when the query fails.
func (e *Engine) secondPass(ctx context.Context, t *turn, answer, data string, depth int, fallback string) string {
	t.logger.Debug("second pass", "depth", depth+1, "data_len", len(data))

	comp, err := e.llm.Query(ctx, e.request(t, answer, data))
	if err != nil {
		t.logger.Error("second pass failed, keeping first response", "error", err, "depth", depth+1)
		return fallback
	}
	if comp.HasToolCalls() {
		return e.dispatchTools(ctx, t, comp, depth+1)
	}

	cleaned := CleanOutput(comp.Text)
	env, err := ParseEnvelope(cleaned)
	if err != nil {
		// plain text answers are used as they are
		return cleaned
	}
	return e.execute(ctx, t, env, comp.Text, depth+1)
}

// fetchNeed resolves a need. Failures and unknown kinds yield "".
func (e *Engine) fetchNeed(ctx context.Context, t *turn, need Directive) string {
	if need.Kind == NeedInput {
		if e.prompter == nil {
			t.logger.Warn("input need without a prompter")
			return ""
		}
		answer, err := e.prompter.Prompt(ctx, need.Argument)
		if err != nil {
			t.logger.Warn("failed to read user input", "error", err)
			return ""
		}
		return "<user_input>" + answer + "</user_input>"
	}

	f, ok := e.fetchers[need.Kind]
	if !ok {
		t.logger.Warn("unknown need kind", core.KindKey, need.Kind)
		return ""
	}
	data, err := f.Fetch(ctx, need.Argument)
	if err != nil {
		t.logger.Error("need fetch failed", "error", err, core.KindKey, need.Kind, core.QueryKey, need.Argument)
		return ""
	}
	return data
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
