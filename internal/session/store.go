package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arunsv/persona/internal/llm"
	"github.com/arunsv/persona/internal/log"
)

// Querier is the database surface the store needs. *pgxpool.Pool
// satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads and writes sessions.
type Store struct {
	db     Querier
	logger log.Logger
}

// NewStore creates a session store.
func NewStore(db Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger.With("component", "session")}
}

// Get loads a session by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var (
		sess    Session
		metaRaw []byte
		msgsRaw []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, meta, messages, created_at, updated_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &metaRaw, &msgsRaw, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	if err := json.Unmarshal(metaRaw, &sess.Meta); err != nil {
		return nil, fmt.Errorf("decoding session meta: %w", err)
	}
	if err := json.Unmarshal(msgsRaw, &sess.Messages); err != nil {
		return nil, fmt.Errorf("decoding session messages: %w", err)
	}
	return &sess, nil
}

// Save upserts a session and its full transcript.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	meta := sess.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding session meta: %w", err)
	}

	msgs := sess.Messages
	if msgs == nil {
		msgs = []llm.Message{}
	}
	msgsRaw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding session messages: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, meta, messages)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET meta = EXCLUDED.meta,
		     messages = EXCLUDED.messages,
		     updated_at = now()`,
		sess.ID, sess.UserID, metaRaw, msgsRaw)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("session saved", "session_id", sess.ID, "messages", len(msgs))
	return nil
}

// List returns the sessions of a user, most recently updated first.
// Transcripts are not loaded.
func (s *Store) List(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, meta, created_at, updated_at
		 FROM sessions WHERE user_id = $1
		 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			metaRaw []byte
		)
		if err := rows.Scan(&sum.ID, &metaRaw, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &sum.Meta); err != nil {
			return nil, fmt.Errorf("decoding session meta: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return summaries, nil
}

// Delete removes a session. Returns ErrNotFound when it does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
