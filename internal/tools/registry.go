package tools

import (
	"github.com/arunsv/persona/internal/llm"
	"github.com/arunsv/persona/internal/log"
)

// Registry holds the merged tool set offered to the model. Registration
// order is preserved; registering a name twice replaces the earlier tool
// in place, so locally registered tools override remote ones of the same
// name when added last.
type Registry struct {
	logger log.Logger
	order  []string
	byName map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		logger: logger.With("component", "tools"),
		byName: make(map[string]Tool),
	}
}

// Register adds a tool. A duplicate name replaces the existing tool and
// is logged, since it usually means a remote catalog collides with a
// built-in.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		r.logger.Warn("tool name collision, replacing earlier registration", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.byName[name] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.byName) }

// Definitions renders the model-facing tool catalog.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, t := range r.All() {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
