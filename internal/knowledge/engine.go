package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/arunsv/persona/internal/llm"
	"github.com/arunsv/persona/internal/log"
)

// DefaultTopK is the number of results Search returns when the caller
// does not specify k.
const DefaultTopK = 5

// ErrSynthesis indicates the model failed to produce parseable questions
// for a chunk.
var ErrSynthesis = errors.New("question synthesis failed")

// Completer produces a schema-constrained completion.
type Completer interface {
	CompleteJSON(ctx context.Context, messages []llm.Message, name string, schema *jsonschema.Schema) (string, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Storage is the persistence surface the engine needs. *Store satisfies it.
type Storage interface {
	InitVectors(ctx context.Context, dim int) error
	ContentExists(ctx context.Context, chash string) (bool, error)
	SaveDocument(ctx context.Context, chunks []Chunk) error
	NearestQuestions(ctx context.Context, embedding []float32, k int, filter map[string]any) ([]Question, error)
	ContentByIDs(ctx context.Context, ids []uuid.UUID) ([]Content, error)
}

// Config holds the dependencies and settings for Engine.
type Config struct {
	// Description summarizes the knowledge base for the system prompt.
	Description string

	// Sections enumerate the allowed values of the `section` metadata
	// field. Empty disables metadata extraction and filtering.
	Sections []string

	Store     Storage
	Completer Completer
	Embedder  Embedder
	Logger    log.Logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Completer == nil {
		return errors.New("completer is required")
	}
	if c.Embedder == nil {
		return errors.New("embedder is required")
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// Engine indexes documents and answers semantic queries over them.
// Retrieval is question-mediated: indexing synthesizes the questions each
// chunk answers and embeds those, and search matches the query against
// the questions rather than the chunks themselves.
type Engine struct {
	cfg     Config
	chunker MarkdownChunker
	logger  log.Logger

	initOnce sync.Once
	initErr  error
}

// NewEngine creates an engine from cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid knowledge config: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "knowledge"),
	}, nil
}

// Description returns the configured knowledge-base summary.
func (e *Engine) Description() string { return e.cfg.Description }

// Sections returns the allowed section filter values.
func (e *Engine) Sections() []string { return e.cfg.Sections }

// Initialize probes the embedding dimension and creates the vector
// storage. It runs at most once; Index and Search call it implicitly.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initOnce.Do(func() {
		vecs, err := e.cfg.Embedder.Embed(ctx, []string{"dimension probe"})
		if err != nil {
			e.initErr = fmt.Errorf("probing embedding dimension: %w", err)
			return
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			e.initErr = errors.New("embedder returned empty probe vector")
			return
		}
		dim := len(vecs[0])

		if err := e.cfg.Store.InitVectors(ctx, dim); err != nil {
			e.initErr = err
			return
		}
		e.logger.Info("vector storage initialized", "dimension", dim)
	})
	return e.initErr
}

// Index chunks a markdown document, synthesizes and embeds questions for
// every chunk not already in the corpus, and stores the results. The
// whole document is written in one transaction after every chunk has
// been processed; a failed chunk persists nothing. It returns the number
// of chunks indexed; unchanged chunks are skipped by content hash.
func (e *Engine) Index(ctx context.Context, fileID string, r io.Reader) (int, error) {
	if err := e.Initialize(ctx); err != nil {
		return 0, err
	}

	chunks, err := e.chunker.Chunk(r)
	if err != nil {
		return 0, err
	}

	fhash := hashHex(fileID)
	staged := make([]Chunk, 0, len(chunks))
	seen := make(map[string]bool)

	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}

		chash := hashHex(chunk)
		if seen[chash] {
			continue
		}
		exists, err := e.cfg.Store.ContentExists(ctx, chash)
		if err != nil {
			return 0, err
		}
		if exists {
			e.logger.Debug("chunk already indexed", "chash", chash)
			continue
		}

		synthesized, err := e.synthesize(ctx, chunk)
		if err != nil {
			return 0, err
		}
		if len(synthesized) == 0 {
			e.logger.Warn("no questions synthesized for chunk", "file", fileID)
			continue
		}

		texts := make([]string, len(synthesized))
		for i, s := range synthesized {
			texts[i] = s.Question
		}
		vecs, err := e.cfg.Embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding questions: %w", err)
		}

		content := Content{
			ID:      uuid.New(),
			Meta:    map[string]any{"file": fileID},
			Content: chunk,
			CHash:   chash,
			FHash:   fhash,
		}
		questions := make([]Question, len(synthesized))
		for i, s := range synthesized {
			questions[i] = Question{
				ID:        uuid.New(),
				ContentID: content.ID,
				Meta:      s.Metadata,
				Question:  s.Question,
				Embedding: vecs[i],
			}
		}

		seen[chash] = true
		staged = append(staged, Chunk{Content: content, Questions: questions})
	}

	if err := e.cfg.Store.SaveDocument(ctx, staged); err != nil {
		return 0, err
	}

	e.logger.Info("document indexed", "file", fileID,
		"chunks", len(chunks), "indexed", len(staged))
	return len(staged), nil
}

// Search embeds the query, scans the k nearest questions and returns the
// content chunks that answer them. Distinct chunks keep the order in
// which their first question appeared in the distance-ranked scan. An
// optional filter restricts the scan to questions whose metadata matches
// exactly.
func (e *Engine) Search(ctx context.Context, query string, k int, filter map[string]any) ([]Content, error) {
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vecs, err := e.cfg.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, errors.New("embedder returned no query vector")
	}

	questions, err := e.cfg.Store.NearestQuestions(ctx, vecs[0], k, filter)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return []Content{}, nil
	}

	// Several questions can point at the same chunk; keep the first
	// occurrence so results stay ranked by best-matching question.
	seen := make(map[uuid.UUID]bool)
	order := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		if !seen[q.ContentID] {
			seen[q.ContentID] = true
			order = append(order, q.ContentID)
		}
	}

	contents, err := e.cfg.Store.ContentByIDs(ctx, order)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]Content, len(contents))
	for _, c := range contents {
		byID[c.ID] = c
	}
	results := make([]Content, 0, len(order))
	for _, id := range order {
		if c, ok := byID[id]; ok {
			results = append(results, c)
		}
	}
	return results, nil
}

const synthesisPrompt = `Given the text provided, generate a comprehensive array of questions that the text would answer.
Return the response strictly as a valid JSON array of objects with a "question" key containing the question.`

const synthesisMetadataPrompt = `
Try to extract the metadata associated with the text given to you and include it in the "metadata" key of the JSON object.`

type synthesizedQuestion struct {
	Question string         `json:"question"`
	Metadata map[string]any `json:"metadata"`
}

func (e *Engine) synthesize(ctx context.Context, chunk string) ([]synthesizedQuestion, error) {
	prompt := synthesisPrompt
	if len(e.cfg.Sections) > 0 {
		prompt += synthesisMetadataPrompt
	}

	raw, err := e.cfg.Completer.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: chunk},
	}, "questions", e.questionSchema())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	var questions []synthesizedQuestion
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &questions); err != nil {
		return nil, fmt.Errorf("%w: parsing model output: %v", ErrSynthesis, err)
	}

	// Drop entries the model left blank rather than indexing empty
	// embeddings.
	out := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(q.Question) != "" {
			out = append(out, q)
		}
	}
	return out, nil
}

func (e *Engine) questionSchema() *jsonschema.Schema {
	item := &jsonschema.Schema{
		Type:        "object",
		Description: "A question that the text would answer.",
		Properties: map[string]*jsonschema.Schema{
			"question": {
				Type:        "string",
				Description: "The question that the text would answer.",
			},
		},
		Required: []string{"question"},
	}

	if len(e.cfg.Sections) > 0 {
		item.Properties["metadata"] = &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"section": {
					Type:        "string",
					Description: "The section of the knowledge base the text belongs to.",
					Enum:        toAnySlice(e.cfg.Sections),
				},
			},
		}
	}

	return &jsonschema.Schema{
		Type:        "array",
		Description: "A list of questions that the text would answer.",
		Items:       item,
	}
}

// stripCodeFence removes a surrounding markdown code fence when the model
// wraps its JSON despite the response format.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
