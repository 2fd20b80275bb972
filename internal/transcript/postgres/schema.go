package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the schema with the embedding dimension baked into the
// vector column.
func ddl(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_messages (
    seq         BIGSERIAL    PRIMARY KEY,
    id          TEXT         NOT NULL UNIQUE,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_messages_session
    ON transcript_messages (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_transcript_messages_fts
    ON transcript_messages USING GIN (to_tsvector('english', content));

CREATE INDEX IF NOT EXISTS idx_transcript_messages_embedding
    ON transcript_messages USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// Migrate creates the transcript table and indexes. It is idempotent.
// Changing dims after the first migration needs a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("postgres migrate: invalid embedding dimensions %d", dims)
	}
	if _, err := pool.Exec(ctx, ddl(dims)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
