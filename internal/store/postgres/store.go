// Package postgres provides the PostgreSQL-backed implementation of the
// relational conversation mirror: the append-only messages table, the
// system/empathy prompt history, and the patient reference-chunk index.
//
// All operations share a single [pgxpool.Pool]. The pgvector extension must
// be available in the target database; [Migrate] installs it automatically
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, postgres.Config{EmbeddingDimensions: 1536})
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.InsertTurn(ctx, store.Turn{SessionID: id, StudentSent: true, Content: text})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vireomed/bedside/internal/store"
)

// Compile-time interface checks.
var (
	_ store.TurnStore         = (*Store)(nil)
	_ store.PromptStore       = (*Store)(nil)
	_ store.ReferenceSearcher = (*Store)(nil)
)

// Config holds pool and schema settings for [NewStore].
type Config struct {
	// MinConns and MaxConns bound the connection pool. Zero values keep the
	// pgxpool defaults. Pool exhaustion blocks the caller; background
	// evaluation tasks must therefore not hold connections across blocking
	// calls.
	MinConns int32
	MaxConns int32

	// EmbeddingDimensions must match the output dimension of the embedding
	// model that produced the patient chunk vectors (e.g. 1536 for OpenAI
	// text-embedding-3-small). Changing it after the first migration
	// requires a manual schema change.
	EmbeddingDimensions int
}

// Store is the PostgreSQL conversation mirror. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
func NewStore(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	// Register pgvector types on every new connection so that vector
	// columns can be scanned into and inserted from pgvector.Vector values.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, cfg.EmbeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
