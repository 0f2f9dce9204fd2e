// Package knowledge implements the retrieval engine: markdown chunking,
// LLM question synthesis, embedding storage and vector search. Content
// is retrieved indirectly; search matches the query against synthesized
// questions and returns the content chunks that answer them.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Content is one indexed document chunk.
type Content struct {
	ID      uuid.UUID
	Meta    map[string]any
	Content string

	// CHash is the SHA-256 of the chunk text, unique corpus-wide.
	// Re-indexing an unchanged chunk is a no-op.
	CHash string

	// FHash is the SHA-256 of the source file identifier.
	FHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk pairs one content row with its synthesized questions, staged
// for a document save.
type Chunk struct {
	Content   Content
	Questions []Question
}

// Question is a synthesized question pointing at the content that
// answers it. The embedding is what vector search scans.
type Question struct {
	ID        uuid.UUID
	ContentID uuid.UUID
	Meta      map[string]any
	Question  string
	Embedding []float32
	CreatedAt time.Time
}
