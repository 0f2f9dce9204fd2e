package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/arunsv/persona/internal/log"
)

// DB is the database surface the store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists contents and their question embeddings in PostgreSQL
// with pgvector.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a knowledge store.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger.With("component", "knowledge.store")}
}

// InitVectors creates the questions table for the given embedding
// dimension. The table cannot live in static migrations because the
// dimension depends on the configured embedding model.
func (s *Store) InitVectors(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}

	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS questions (
			id          UUID PRIMARY KEY,
			cid         UUID NOT NULL REFERENCES contents(id) ON DELETE CASCADE,
			meta        JSONB NOT NULL DEFAULT '{}',
			question    TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dim))
	if err != nil {
		return fmt.Errorf("creating questions table: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_questions_embedding
		ON questions USING hnsw (embedding vector_cosine_ops)`)
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}
	return nil
}

// ContentExists reports whether a chunk with this content hash is
// already indexed.
func (s *Store) ContentExists(ctx context.Context, chash string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM contents WHERE chash = $1)`, chash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking content hash: %w", err)
	}
	return exists, nil
}

// SaveDocument stores a document's chunks and their questions in one
// transaction. Either every chunk commits or none do.
func (s *Store) SaveDocument(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range chunks {
		metaRaw, err := json.Marshal(orEmpty(c.Content.Meta))
		if err != nil {
			return fmt.Errorf("encoding content meta: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO contents (id, meta, content, chash, fhash)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.Content.ID, metaRaw, c.Content.Content, c.Content.CHash, c.Content.FHash)
		if err != nil {
			return fmt.Errorf("inserting content: %w", err)
		}

		for _, q := range c.Questions {
			qMetaRaw, err := json.Marshal(orEmpty(q.Meta))
			if err != nil {
				return fmt.Errorf("encoding question meta: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO questions (id, cid, meta, question, embedding)
				 VALUES ($1, $2, $3, $4, $5)`,
				q.ID, c.Content.ID, qMetaRaw, q.Question, pgvector.NewVector(q.Embedding))
			if err != nil {
				return fmt.Errorf("inserting question: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}

	s.logger.Debug("document saved", "chunks", len(chunks))
	return nil
}

// NearestQuestions returns the k questions closest to the embedding by
// cosine distance, nearest first. A non-empty filter constrains results
// to questions whose meta contains it.
func (s *Store) NearestQuestions(ctx context.Context, embedding []float32, k int, filter map[string]any) ([]Question, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(filter) > 0 {
		filterRaw, merr := json.Marshal(filter)
		if merr != nil {
			return nil, fmt.Errorf("encoding filter: %w", merr)
		}
		rows, err = s.db.Query(ctx,
			`SELECT id, cid, meta, question FROM questions
			 WHERE meta @> $2
			 ORDER BY embedding <=> $1
			 LIMIT $3`,
			pgvector.NewVector(embedding), filterRaw, k)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT id, cid, meta, question FROM questions
			 ORDER BY embedding <=> $1
			 LIMIT $2`,
			pgvector.NewVector(embedding), k)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var (
			q       Question
			metaRaw []byte
		)
		if err := rows.Scan(&q.ID, &q.ContentID, &metaRaw, &q.Question); err != nil {
			return nil, fmt.Errorf("scanning question row: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &q.Meta); err != nil {
			return nil, fmt.Errorf("decoding question meta: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating questions: %w", err)
	}
	return questions, nil
}

// ContentByIDs loads content rows by id. Order of the result is
// unspecified; callers reorder as needed.
func (s *Store) ContentByIDs(ctx context.Context, ids []uuid.UUID) ([]Content, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, meta, content, chash, fhash, created_at, updated_at
		 FROM contents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("loading contents: %w", err)
	}
	defer rows.Close()

	var contents []Content
	for rows.Next() {
		var (
			c       Content
			metaRaw []byte
		)
		if err := rows.Scan(&c.ID, &metaRaw, &c.Content, &c.CHash, &c.FHash,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning content row: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &c.Meta); err != nil {
			return nil, fmt.Errorf("decoding content meta: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contents: %w", err)
	}
	return contents, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
