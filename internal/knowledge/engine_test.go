package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/arunsv/persona/internal/llm"
)

type fakeStore struct {
	existing  map[string]bool
	saved     []Chunk
	saveCalls int

	nearest    []Question
	contents   []Content
	initCalls  int
	lastK      int
	lastFilter map[string]any
}

func (f *fakeStore) InitVectors(ctx context.Context, dim int) error {
	f.initCalls++
	return nil
}

func (f *fakeStore) ContentExists(ctx context.Context, chash string) (bool, error) {
	return f.existing[chash], nil
}

func (f *fakeStore) SaveDocument(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	f.saveCalls++
	if f.existing == nil {
		f.existing = make(map[string]bool)
	}
	for _, c := range chunks {
		f.existing[c.Content.CHash] = true
	}
	f.saved = append(f.saved, chunks...)
	return nil
}

func (f *fakeStore) NearestQuestions(ctx context.Context, embedding []float32, k int, filter map[string]any) ([]Question, error) {
	f.lastK = k
	f.lastFilter = filter
	return f.nearest, nil
}

func (f *fakeStore) ContentByIDs(ctx context.Context, ids []uuid.UUID) ([]Content, error) {
	return f.contents, nil
}

type fakeCompleter struct {
	reply string
	err   error

	// failOn makes the numbered call (1-based) fail with err; earlier
	// calls succeed with reply. Zero applies reply and err to all calls.
	failOn int
	calls  int
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, messages []llm.Message, name string, schema *jsonschema.Schema) (string, error) {
	f.calls++
	if f.failOn > 0 && f.calls != f.failOn {
		return f.reply, nil
	}
	return f.reply, f.err
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vecs, nil
}

func newTestEngine(t *testing.T, store *fakeStore, completer *fakeCompleter) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Description: "test knowledge base",
		Sections:    []string{"work", "projects"},
		Store:       store,
		Completer:   completer,
		Embedder:    &fakeEmbedder{},
	})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return e
}

const testDoc = "# Work\nBuilt the payments pipeline at Acme.\n"

func TestEngine_Index_SynthesizesAndStores(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{
		reply: `[{"question":"Where did Arun work?","metadata":{"section":"work"}},{"question":"What did Arun build?"}]`,
	}
	e := newTestEngine(t, store, completer)

	indexed, err := e.Index(context.Background(), "about.md", strings.NewReader(testDoc))
	if err != nil {
		t.Fatalf("Index() error: %v", err)
	}
	if indexed != 1 {
		t.Fatalf("Index() = %d, want 1", indexed)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d chunks, want 1", len(store.saved))
	}

	doc := store.saved[0]
	if doc.Content.Content != "Built the payments pipeline at Acme." {
		t.Errorf("content = %q", doc.Content.Content)
	}
	if doc.Content.CHash == "" || doc.Content.FHash == "" {
		t.Error("content hashes not set")
	}
	if doc.Content.Meta["file"] != "about.md" {
		t.Errorf("content meta = %v", doc.Content.Meta)
	}

	if len(doc.Questions) != 2 {
		t.Fatalf("saved %d questions, want 2", len(doc.Questions))
	}
	q := doc.Questions[0]
	if q.ContentID != doc.Content.ID {
		t.Error("question not linked to content")
	}
	if len(q.Embedding) == 0 {
		t.Error("question embedding missing")
	}
	if q.Meta["section"] != "work" {
		t.Errorf("question meta = %v", q.Meta)
	}
}

func TestEngine_Index_SkipsExistingChunks(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{reply: `[{"question":"q"}]`}
	e := newTestEngine(t, store, completer)
	ctx := context.Background()

	if _, err := e.Index(ctx, "about.md", strings.NewReader(testDoc)); err != nil {
		t.Fatalf("first Index() error: %v", err)
	}

	indexed, err := e.Index(ctx, "about.md", strings.NewReader(testDoc))
	if err != nil {
		t.Fatalf("second Index() error: %v", err)
	}
	if indexed != 0 {
		t.Errorf("second Index() = %d, want 0", indexed)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d chunks after re-index, want 1", len(store.saved))
	}
	if completer.calls != 1 {
		t.Errorf("synthesis ran %d times, want 1", completer.calls)
	}
}

func TestEngine_Index_SynthesisErrorPropagates(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{err: errors.New("model unavailable")}
	e := newTestEngine(t, store, completer)

	_, err := e.Index(context.Background(), "about.md", strings.NewReader(testDoc))
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("Index() error = %v, want ErrSynthesis", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d chunks on failure, want 0", len(store.saved))
	}
}

const multiChunkDoc = "# Work\nBuilt the payments pipeline at Acme.\n\n" +
	"# Goals\nShip the personal agent platform.\n"

func TestEngine_Index_SavesDocumentInOneWrite(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{reply: `[{"question":"q"}]`}
	e := newTestEngine(t, store, completer)

	indexed, err := e.Index(context.Background(), "about.md", strings.NewReader(multiChunkDoc))
	if err != nil {
		t.Fatalf("Index() error: %v", err)
	}
	if indexed != 2 {
		t.Fatalf("Index() = %d, want 2", indexed)
	}
	if store.saveCalls != 1 {
		t.Errorf("SaveDocument ran %d times, want 1", store.saveCalls)
	}
	if len(store.saved) != 2 {
		t.Errorf("saved %d chunks, want 2", len(store.saved))
	}
}

func TestEngine_Index_MidDocumentFailurePersistsNothing(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{
		reply:  `[{"question":"q"}]`,
		err:    errors.New("model unavailable"),
		failOn: 2,
	}
	e := newTestEngine(t, store, completer)

	indexed, err := e.Index(context.Background(), "about.md", strings.NewReader(multiChunkDoc))
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("Index() error = %v, want ErrSynthesis", err)
	}
	if indexed != 0 {
		t.Errorf("Index() = %d, want 0", indexed)
	}
	if store.saveCalls != 0 {
		t.Errorf("SaveDocument ran %d times, want 0", store.saveCalls)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d chunks despite failed document, want 0", len(store.saved))
	}
}

func TestEngine_Index_UnparseableOutputPropagates(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{reply: "sorry, I cannot do that"}
	e := newTestEngine(t, store, completer)

	_, err := e.Index(context.Background(), "about.md", strings.NewReader(testDoc))
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("Index() error = %v, want ErrSynthesis", err)
	}
}

func TestEngine_Index_StripsCodeFence(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{
		reply: "```json\n[{\"question\":\"q\"}]\n```",
	}
	e := newTestEngine(t, store, completer)

	indexed, err := e.Index(context.Background(), "about.md", strings.NewReader(testDoc))
	if err != nil {
		t.Fatalf("Index() error: %v", err)
	}
	if indexed != 1 {
		t.Errorf("Index() = %d, want 1", indexed)
	}
}

func TestEngine_Search_DedupesPreservingScanOrder(t *testing.T) {
	idA, idB := uuid.New(), uuid.New()
	store := &fakeStore{
		nearest: []Question{
			{ID: uuid.New(), ContentID: idA},
			{ID: uuid.New(), ContentID: idB},
			{ID: uuid.New(), ContentID: idA},
		},
		// Deliberately returned out of scan order.
		contents: []Content{
			{ID: idB, Content: "second"},
			{ID: idA, Content: "first"},
		},
	}
	e := newTestEngine(t, store, &fakeCompleter{})

	results, err := e.Search(context.Background(), "query", 5, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "first" || results[1].Content != "second" {
		t.Errorf("results out of order: %q, %q", results[0].Content, results[1].Content)
	}
}

func TestEngine_Search_EmptyScan(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(t, store, &fakeCompleter{})

	results, err := e.Search(context.Background(), "anything", 5, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Search() = %v, want empty slice", results)
	}
}

func TestEngine_Search_DefaultsKAndForwardsFilter(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(t, store, &fakeCompleter{})

	filter := map[string]any{"section": "work"}
	if _, err := e.Search(context.Background(), "q", 0, filter); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if store.lastK != DefaultTopK {
		t.Errorf("k = %d, want %d", store.lastK, DefaultTopK)
	}
	if store.lastFilter["section"] != "work" {
		t.Errorf("filter = %v", store.lastFilter)
	}
}

func TestEngine_Initialize_RunsOnce(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	e, err := NewEngine(Config{
		Store:     store,
		Completer: &fakeCompleter{},
		Embedder:  embedder,
	})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	ctx := context.Background()

	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() error: %v", err)
	}

	if store.initCalls != 1 {
		t.Errorf("InitVectors ran %d times, want 1", store.initCalls)
	}
	if embedder.calls != 1 {
		t.Errorf("dimension probe ran %d times, want 1", embedder.calls)
	}
}
