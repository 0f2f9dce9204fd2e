package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/time/rate"

	"github.com/arunsv/persona/internal/log"
)

const (
	defaultTimeout = 5 * time.Minute

	// Upstream rate limits: 10 requests/second burst 30.
	requestsPerSecond = 10
	burstSize         = 30
)

var (
	// ErrMissingAPIKey indicates no API key was provided.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingModel indicates no model name was provided.
	ErrMissingModel = errors.New("missing model")

	// ErrNoChoices indicates the API returned an empty choices array.
	ErrNoChoices = errors.New("response contains no choices")
)

// Config holds the dependencies and settings for Client.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	EmbedderModel string

	// Timeout bounds a single request. Default: 5 minutes, long enough
	// for slow streaming generations.
	Timeout time.Duration

	Logger log.Logger
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// Client talks to an OpenAI-compatible chat-completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.Logger
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
		logger:     cfg.Logger.With("component", "llm"),
	}, nil
}

// Wire types for the chat-completions protocol.

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	Tools          []wireTool      `json:"tools,omitempty"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string             `json:"name"`
	Strict bool               `json:"strict"`
	Schema *jsonschema.Schema `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

type streamDeltaToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Function wireFunctionCall `json:"function"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []streamDeltaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func toWireMessages(msgs []Message) ([]wireMessage, error) {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("marshalling tool call arguments: %w", err)
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, wm)
	}
	return out, nil
}

func toWireTools(defs []ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(data))
	}

	return resp, nil
}

// Generate streams one assistant turn. The sequence yields EventDelta for
// each text fragment, then exactly one EventMessage carrying the complete
// assistant message, then EventFunctions when the model requested tools.
// On error the sequence yields a single (zero Event, err) pair and stops.
func (c *Client) Generate(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		msgs, err := toWireMessages(req.Messages)
		if err != nil {
			yield(Event{}, err)
			return
		}

		resp, err := c.post(ctx, "/chat/completions", chatRequest{
			Model:       c.cfg.Model,
			Messages:    msgs,
			Tools:       toWireTools(req.Tools),
			Stream:      true,
			Temperature: req.Temperature,
		})
		if err != nil {
			yield(Event{}, err)
			return
		}
		defer resp.Body.Close()

		var content strings.Builder
		partials := make(map[int]*wireToolCall)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				c.logger.Warn("skipping malformed stream chunk", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				content.WriteString(delta.Content)
				if !yield(Event{Type: EventDelta, Delta: delta.Content}, nil) {
					return
				}
			}

			// Tool call fragments arrive indexed; the id and name come
			// with the first fragment, arguments accumulate across chunks.
			for _, tc := range delta.ToolCalls {
				p, ok := partials[tc.Index]
				if !ok {
					p = &wireToolCall{}
					partials[tc.Index] = p
				}
				if tc.ID != "" {
					p.ID = tc.ID
				}
				if tc.Function.Name != "" {
					p.Function.Name = tc.Function.Name
				}
				p.Function.Arguments += tc.Function.Arguments
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Event{}, fmt.Errorf("reading stream: %w", err))
			return
		}

		calls, err := assembleToolCalls(partials)
		if err != nil {
			yield(Event{}, err)
			return
		}

		msg := &Message{
			Role:      RoleAssistant,
			Content:   content.String(),
			ToolCalls: calls,
		}
		if !yield(Event{Type: EventMessage, Message: msg}, nil) {
			return
		}
		if len(calls) > 0 {
			yield(Event{Type: EventFunctions, Functions: calls}, nil)
		}
	}
}

// assembleToolCalls orders accumulated fragments by stream index and
// parses their argument payloads.
func assembleToolCalls(partials map[int]*wireToolCall) ([]ToolCall, error) {
	if len(partials) == 0 {
		return nil, nil
	}

	indexes := make([]int, 0, len(partials))
	for i := range partials {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(partials))
	for _, i := range indexes {
		p := partials[i]
		args := map[string]any{}
		if raw := strings.TrimSpace(p.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("parsing arguments for tool %q: %w", p.Function.Name, err)
			}
		}
		calls = append(calls, ToolCall{
			ID:        p.ID,
			Name:      p.Function.Name,
			Arguments: args,
		})
	}
	return calls, nil
}

// Complete performs a non-streaming generation and returns the assistant
// text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, nil)
}

// CompleteJSON performs a non-streaming generation constrained to the
// given JSON schema. Used for question synthesis during indexing.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, name string, schema *jsonschema.Schema) (string, error) {
	return c.complete(ctx, messages, &responseFormat{
		Type: "json_schema",
		JSONSchema: &jsonSchemaFormat{
			Name:   name,
			Strict: true,
			Schema: schema,
		},
	})
}

func (c *Client) complete(ctx context.Context, messages []Message, format *responseFormat) (string, error) {
	msgs, err := toWireMessages(messages)
	if err != nil {
		return "", err
	}

	resp, err := c.post(ctx, "/chat/completions", chatRequest{
		Model:          c.cfg.Model,
		Messages:       msgs,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrNoChoices
	}
	return out.Choices[0].Message.Content, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.post(ctx, "/embeddings", embeddingsRequest{
		Model: c.cfg.EmbedderModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embeddings: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
