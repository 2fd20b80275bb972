// Package postgres is a PostgreSQL transcript.Store. Messages are embedded
// on append and recalled by pgvector cosine distance; without an embedder,
// or for messages whose embedding failed, recall falls back to full-text
// search.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/internal/transcript"
	"github.com/MrWong99/meetagent/pkg/provider/embeddings"
)

var _ transcript.Store = (*Store)(nil)

// Store is safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	embed embeddings.Provider
}

// NewStore connects to dsn, registers pgvector types on every connection
// and runs Migrate. embed may be nil.
func NewStore(ctx context.Context, dsn string, dims int, embed embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool, embed: embed}, nil
}

// Ping checks the database connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Append implements transcript.Store. Re-appending a message ID is a no-op.
func (s *Store) Append(ctx context.Context, sessionID string, m conversation.Message) error {
	md, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("postgres store: append: metadata: %w", err)
	}
	if m.Metadata == nil {
		md = []byte("{}")
	}

	var vec *pgvector.Vector
	if s.embed != nil && m.Role != conversation.RoleSystem && strings.TrimSpace(m.Content) != "" {
		if v, err := s.embed.Embed(ctx, m.Content); err != nil {
			slog.Warn("postgres store: embed failed, storing without vector", "err", err)
		} else {
			pv := pgvector.NewVector(v)
			vec = &pv
		}
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `
		INSERT INTO transcript_messages (id, session_id, role, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, m.ID, sessionID, string(m.Role), m.Content, md, vec, ts); err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// Recall implements transcript.Store.
func (s *Store) Recall(ctx context.Context, sessionID, query string, k int) ([]conversation.Message, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if s.embed != nil {
		v, err := s.embed.Embed(ctx, query)
		if err == nil {
			msgs, err := s.recallVector(ctx, sessionID, v, k)
			if err != nil || len(msgs) > 0 {
				return msgs, err
			}
		} else {
			slog.Warn("postgres store: embed query failed, using full-text recall", "err", err)
		}
	}
	return s.recallText(ctx, sessionID, query, k)
}

func (s *Store) recallVector(ctx context.Context, sessionID string, v []float32, k int) ([]conversation.Message, error) {
	const q = `
		SELECT id, role, content, metadata, created_at
		FROM   transcript_messages
		WHERE  session_id = $1 AND embedding IS NOT NULL AND role <> 'system'
		ORDER  BY embedding <=> $2
		LIMIT  $3`
	rows, err := s.pool.Query(ctx, q, sessionID, pgvector.NewVector(v), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recall: %w", err)
	}
	return collect(rows)
}

func (s *Store) recallText(ctx context.Context, sessionID, query string, k int) ([]conversation.Message, error) {
	const q = `
		SELECT id, role, content, metadata, created_at
		FROM   transcript_messages
		WHERE  session_id = $1 AND role <> 'system'
		  AND  to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		ORDER  BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) DESC, seq DESC
		LIMIT  $3`
	rows, err := s.pool.Query(ctx, q, sessionID, query, k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recall text: %w", err)
	}
	return collect(rows)
}

// Session implements transcript.Store.
func (s *Store) Session(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	const q = `
		SELECT id, role, content, metadata, created_at
		FROM   transcript_messages
		WHERE  session_id = $1
		ORDER  BY seq`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: session: %w", err)
	}
	return collect(rows)
}

// Close implements transcript.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collect(rows pgx.Rows) ([]conversation.Message, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (conversation.Message, error) {
		var (
			m    conversation.Message
			role string
			md   []byte
		)
		if err := row.Scan(&m.ID, &role, &m.Content, &md, &m.Timestamp); err != nil {
			return conversation.Message{}, err
		}
		m.Role = conversation.Role(role)
		if len(md) > 0 && string(md) != "{}" {
			if err := json.Unmarshal(md, &m.Metadata); err != nil {
				return conversation.Message{}, err
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return msgs, nil
}
