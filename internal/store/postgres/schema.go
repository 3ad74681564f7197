package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExtensions = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE EXTENSION IF NOT EXISTS vector;
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    message_id         UUID         PRIMARY KEY DEFAULT uuid_generate_v4(),
    session_id         TEXT         NOT NULL,
    student_sent       BOOLEAN      NOT NULL,
    message_content    TEXT         NOT NULL,
    time_sent          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    empathy_evaluation JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id
    ON messages (session_id);

CREATE INDEX IF NOT EXISTS idx_messages_session_time
    ON messages (session_id, time_sent);
`

const ddlPromptHistory = `
CREATE TABLE IF NOT EXISTS system_prompt_history (
    history_id     UUID         PRIMARY KEY DEFAULT uuid_generate_v4(),
    prompt_content TEXT         NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS empathy_prompt_history (
    history_id     UUID         PRIMARY KEY DEFAULT uuid_generate_v4(),
    prompt_content TEXT         NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlPatientChunks = `
CREATE TABLE IF NOT EXISTS patient_chunks (
    chunk_id   UUID         PRIMARY KEY DEFAULT uuid_generate_v4(),
    patient_id TEXT         NOT NULL,
    content    TEXT         NOT NULL,
    embedding  VECTOR(%d)   NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_patient_chunks_patient_id
    ON patient_chunks (patient_id);

CREATE INDEX IF NOT EXISTS idx_patient_chunks_embedding
    ON patient_chunks USING hnsw (embedding vector_cosine_ops);
`

// Migrate ensures the extensions, tables and indexes required by the store
// exist. Every statement is idempotent, so Migrate is safe to run on every
// startup; full schema lifecycle management is owned by the external DDL
// runner.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		embeddingDimensions = 1536
	}

	statements := []string{
		ddlExtensions,
		ddlMessages,
		ddlPromptHistory,
		fmt.Sprintf(ddlPatientChunks, embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
