// Package tools defines the callable tool abstraction the agent exposes
// to the model, a registry that merges local and remote tools, and an
// MCP client that imports tools from remote catalogs.
package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a capability the model can invoke by name. Implementations
// must be safe for concurrent use; the agent may dispatch several calls
// from one turn.
type Tool interface {
	Name() string
	Description() string

	// Parameters returns the JSON schema of the arguments object.
	Parameters() *jsonschema.Schema

	// Call executes the tool. The returned string is fed back to the
	// model verbatim as the tool result.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	name        string
	description string
	parameters  *jsonschema.Schema
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc builds a Tool from its parts.
func NewFunc(
	name, description string,
	parameters *jsonschema.Schema,
	fn func(ctx context.Context, args map[string]any) (string, error),
) *Func {
	return &Func{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

func (f *Func) Name() string                   { return f.name }
func (f *Func) Description() string            { return f.description }
func (f *Func) Parameters() *jsonschema.Schema { return f.parameters }

func (f *Func) Call(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(ctx, args)
}
