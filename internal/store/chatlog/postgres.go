package chatlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Log = (*Postgres)(nil)

const ddlChatLog = `
CREATE TABLE IF NOT EXISTS chat_log (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    role       TEXT         NOT NULL,
    content    TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_log_session
    ON chat_log (session_id, id);
`

// Postgres is a Log backed by its own pgx connection pool, so chat-history
// availability is independent of the relational mirror's pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the chat-history database at dsn and ensures the
// chat_log table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("chatlog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("chatlog: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlChatLog); err != nil {
		pool.Close()
		return nil, fmt.Errorf("chatlog: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append implements [Log].
func (p *Postgres) Append(ctx context.Context, sessionID, role, content string) error {
	const q = `INSERT INTO chat_log (session_id, role, content) VALUES ($1, $2, $3)`
	if _, err := p.pool.Exec(ctx, q, sessionID, role, content); err != nil {
		return fmt.Errorf("chatlog: append: %w", err)
	}
	return nil
}

// Recent implements [Log]. Messages come back in chronological order.
func (p *Postgres) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const q = `
		SELECT role, content FROM (
		    SELECT id, role, content
		    FROM   chat_log
		    WHERE  session_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) latest
		ORDER BY id`

	rows, err := p.pool.Query(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("chatlog: recent: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		if err := row.Scan(&m.Role, &m.Content); err != nil {
			return Message{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chatlog: scan: %w", err)
	}
	return msgs, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
