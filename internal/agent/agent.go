// Package agent implements the conversation orchestrator. A turn streams
// model output to the caller while transparently executing any tools the
// model requests, then persists the full transcript once the turn
// completes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/arunsv/persona/internal/knowledge"
	"github.com/arunsv/persona/internal/llm"
	"github.com/arunsv/persona/internal/log"
	"github.com/arunsv/persona/internal/session"
	"github.com/arunsv/persona/internal/tools"
)

// DefaultMaxRounds bounds the generation loop when the configuration
// does not.
const DefaultMaxRounds = 10

var (
	// ErrToolLoopExceeded indicates the model kept requesting tools past
	// the configured round bound and the turn was failed defensively.
	ErrToolLoopExceeded = errors.New("tool loop exceeded maximum rounds")

	// ErrNotInitialized indicates Chat was called before Initialize.
	ErrNotInitialized = errors.New("agent not initialized")

	errEmptyQuery = errors.New("search query must not be empty")
)

// Generator streams one assistant turn. *llm.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) iter.Seq2[llm.Event, error]
}

// SessionStore persists conversation transcripts. *session.Store
// satisfies it.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
}

// Searcher is the knowledge capability exposed as the search_knowledge
// tool. *knowledge.Engine satisfies it.
type Searcher interface {
	Initialize(ctx context.Context) error
	Search(ctx context.Context, query string, k int, filter map[string]any) ([]knowledge.Content, error)
	Description() string
	Sections() []string
}

// Config holds the dependencies and settings for Agent.
type Config struct {
	Generator Generator
	Sessions  SessionStore

	// Knowledge is optional; when set the search_knowledge tool is
	// registered and the knowledge base is advertised in the prompt.
	Knowledge Searcher

	// Instructions is the persona prompt. Default: DefaultInstructions.
	Instructions string

	// LocalTools are registered after remote catalog tools, so they win
	// name collisions.
	LocalTools []tools.Tool

	// MCPServers are remote catalogs connected during Initialize.
	MCPServers []tools.Server

	// MaxRounds bounds generation passes per turn. Default: 10.
	MaxRounds int

	Logger log.Logger
}

func (c *Config) validate() error {
	if c.Generator == nil {
		return errors.New("generator is required")
	}
	if c.Sessions == nil {
		return errors.New("session store is required")
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// Agent orchestrates conversation turns. Build with New, call Initialize
// once before the first turn and Close at shutdown. After Initialize the
// registry and instructions are read-only, so turns may run concurrently
// for distinct sessions.
type Agent struct {
	cfg          Config
	logger       log.Logger
	registry     *tools.Registry
	catalog      *tools.Catalog
	instructions string
	initialized  bool
}

// New creates an agent from cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	return &Agent{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "agent"),
	}, nil
}

// Initialize connects remote catalogs, builds the merged tool registry
// and assembles the system prompt. A catalog failure aborts startup and
// releases any catalogs already connected.
func (a *Agent) Initialize(ctx context.Context) error {
	if a.initialized {
		return nil
	}

	a.registry = tools.NewRegistry(a.cfg.Logger)

	catalog, err := tools.Connect(ctx, a.cfg.MCPServers, a.cfg.Logger)
	if err != nil {
		return fmt.Errorf("connecting tool catalogs: %w", err)
	}
	a.catalog = catalog

	// Remote first, local after: local tools win name collisions.
	for _, t := range catalog.Tools() {
		a.registry.Register(t)
	}
	for _, t := range a.cfg.LocalTools {
		a.registry.Register(t)
	}

	kbDescription := ""
	if a.cfg.Knowledge != nil {
		if err := a.cfg.Knowledge.Initialize(ctx); err != nil {
			_ = a.catalog.Close()
			return fmt.Errorf("initializing knowledge engine: %w", err)
		}
		a.registry.Register(searchKnowledgeTool(a.cfg.Knowledge))
		kbDescription = a.cfg.Knowledge.Description()
	}

	a.instructions = buildInstructions(
		a.cfg.Instructions, catalog.Instructions(), a.registry.Len() > 0, kbDescription)

	a.initialized = true
	a.logger.Info("agent initialized", "tools", a.registry.Len())
	return nil
}

// Close releases the remote tool catalogs.
func (a *Agent) Close() error {
	if a.catalog == nil {
		return nil
	}
	err := a.catalog.Close()
	a.catalog = nil
	a.initialized = false
	return err
}

// Chat runs one conversation turn and yields assistant text fragments as
// they stream in. The session is loaded (or created) at the start, all
// appends happen on a working copy, and the transcript is persisted in
// one write after the loop finishes. A mid-stream failure or an
// abandoned consumer leaves the persisted session untouched.
func (a *Agent) Chat(ctx context.Context, userID, sessionID, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !a.initialized {
			yield("", ErrNotInitialized)
			return
		}

		sess, err := a.cfg.Sessions.Get(ctx, sessionID)
		switch {
		case errors.Is(err, session.ErrNotFound):
			sess = &session.Session{ID: sessionID, UserID: userID}
		case err != nil:
			yield("", err)
			return
		}

		working := slices.Clone(sess.Messages)
		working = append(working, llm.Message{Role: llm.RoleUser, Content: text})

		defs := a.registry.Definitions()

		for round := 0; ; round++ {
			if round >= a.cfg.MaxRounds {
				a.logger.Error("turn aborted",
					"session_id", sessionID, "rounds", round)
				yield("", ErrToolLoopExceeded)
				return
			}

			messages := make([]llm.Message, 0, len(working)+1)
			messages = append(messages, llm.Message{
				Role:    llm.RoleSystem,
				Content: a.instructions,
			})
			messages = append(messages, working...)

			var calls []llm.ToolCall
			for ev, err := range a.cfg.Generator.Generate(ctx, llm.Request{
				Messages: messages,
				Tools:    defs,
			}) {
				if err != nil {
					a.logger.Error("generation failed",
						"session_id", sessionID, "error", err)
					yield("", err)
					return
				}
				switch ev.Type {
				case llm.EventDelta:
					if !yield(ev.Delta, nil) {
						return
					}
				case llm.EventMessage:
					working = append(working, *ev.Message)
				case llm.EventFunctions:
					calls = ev.Functions
				}
			}

			if len(calls) == 0 {
				break
			}
			for _, call := range calls {
				working = append(working, llm.Message{
					Role:       llm.RoleTool,
					Content:    a.dispatch(ctx, call),
					ToolCallID: call.ID,
				})
			}
		}

		sess.Messages = working
		if err := a.cfg.Sessions.Save(ctx, sess); err != nil {
			yield("", fmt.Errorf("persisting session: %w", err))
			return
		}
	}
}

// dispatch executes one tool call. Failures become the tool result so
// the model can recover conversationally instead of aborting the turn.
func (a *Agent) dispatch(ctx context.Context, call llm.ToolCall) string {
	t, ok := a.registry.Get(call.Name)
	if !ok {
		a.logger.Warn("model requested unknown tool", "tool", call.Name)
		return fmt.Sprintf("Error: tool %q is not available", call.Name)
	}

	out, err := t.Call(ctx, call.Arguments)
	if err != nil {
		a.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error executing tool: %v", err)
	}
	return out
}
