package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arunsv/persona/internal/log"
)

// Server describes one remote MCP endpoint to import tools from.
type Server struct {
	// URL is the streamable HTTP endpoint.
	URL string

	// Instructions is optional usage guidance for the system prompt.
	Instructions string
}

// Catalog holds the tools imported from remote MCP servers together with
// the sessions that back them. Close the catalog when the agent shuts
// down; tool calls fail after Close.
type Catalog struct {
	logger       log.Logger
	sessions     []*mcp.ClientSession
	tools        []Tool
	instructions []string
}

// Connect dials every configured server, lists its tools and wraps them
// as local Tool values. A server that cannot be reached fails the whole
// connect; partially imported catalogs would silently change the agent's
// capabilities between restarts.
func Connect(ctx context.Context, servers []Server, logger log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Catalog{logger: logger.With("component", "mcp")}

	for _, srv := range servers {
		client := mcp.NewClient(&mcp.Implementation{
			Name:    "persona",
			Version: "1.0.0",
		}, nil)

		session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connecting to MCP server %s: %w", srv.URL, err)
		}

		if err := c.Attach(ctx, session, srv.Instructions); err != nil {
			c.Close()
			return nil, fmt.Errorf("importing tools from %s: %w", srv.URL, err)
		}
	}

	return c, nil
}

// Attach imports the tools of an already connected session into the
// catalog. The catalog takes ownership of the session.
func (c *Catalog) Attach(ctx context.Context, session *mcp.ClientSession, instructions string) error {
	c.sessions = append(c.sessions, session)

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	for _, t := range result.Tools {
		schema, err := schemaFromAny(t.InputSchema)
		if err != nil {
			return fmt.Errorf("decoding schema of tool %q: %w", t.Name, err)
		}
		c.tools = append(c.tools, &remoteTool{
			session:     session,
			name:        t.Name,
			description: t.Description,
			parameters:  schema,
		})
		c.logger.Debug("imported remote tool", "tool", t.Name)
	}

	if strings.TrimSpace(instructions) != "" {
		c.instructions = append(c.instructions, strings.TrimSpace(instructions))
	}
	return nil
}

// Tools returns the imported tools in discovery order.
func (c *Catalog) Tools() []Tool { return c.tools }

// Instructions returns the configured usage guidance, one entry per
// server that provided any.
func (c *Catalog) Instructions() []string { return c.instructions }

// Close terminates all sessions.
func (c *Catalog) Close() error {
	var errs []error
	for _, s := range c.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.sessions = nil
	return errors.Join(errs...)
}

// remoteTool proxies Call to an MCP session.
type remoteTool struct {
	session     *mcp.ClientSession
	name        string
	description string
	parameters  *jsonschema.Schema
}

func (t *remoteTool) Name() string                   { return t.name }
func (t *remoteTool) Description() string            { return t.description }
func (t *remoteTool) Parameters() *jsonschema.Schema { return t.parameters }

func (t *remoteTool) Call(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("calling remote tool %q: %w", t.name, err)
	}

	text := joinTextContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("remote tool %q failed: %s", t.name, text)
	}
	return text, nil
}

// schemaFromAny converts the SDK's wire representation of a tool's input
// schema (any JSON value) into a typed schema.
func schemaFromAny(v any) (*jsonschema.Schema, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(*jsonschema.Schema); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(jsonschema.Schema)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// joinTextContent concatenates the text parts of a tool result. Non-text
// parts are skipped; this agent only feeds text back to the model.
func joinTextContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
