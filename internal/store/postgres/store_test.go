package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vireomed/bedside/internal/store"
	"github.com/vireomed/bedside/internal/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if BEDSIDE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("BEDSIDE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BEDSIDE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open clean pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)

	for _, table := range []string{"messages", "system_prompt_history", "empathy_prompt_history", "patient_chunks"} {
		if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}

	st, err := postgres.NewStore(ctx, dsn, postgres.Config{EmbeddingDimensions: testEmbeddingDim})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func TestInsertTurn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	turns := []store.Turn{
		{SessionID: "s1", StudentSent: true, Content: "hello"},
		{SessionID: "s1", StudentSent: false, Content: "hi there"},
		{SessionID: "s1", StudentSent: true, Content: "hello", Empathy: json.RawMessage(`{"score":4}`)},
	}
	for _, turn := range turns {
		if err := st.InsertTurn(ctx, turn); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// Duplicate inserts from the backup path must be accepted as-is.
	if err := st.InsertTurn(ctx, turns[0]); err != nil {
		t.Fatalf("duplicate insert rejected: %v", err)
	}
}

func TestLatestPromptEmpty(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.LatestSystemPrompt(ctx); !errors.Is(err, store.ErrNoPrompt) {
		t.Fatalf("want ErrNoPrompt, got %v", err)
	}
	if _, err := st.LatestEmpathyPrompt(ctx); !errors.Is(err, store.ErrNoPrompt) {
		t.Fatalf("want ErrNoPrompt, got %v", err)
	}
}

func TestSearchPatientContext(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	chunks := []struct {
		id        string
		patient   string
		content   string
		embedding []float32
	}{
		{"00000000-0000-0000-0000-000000000001", "p1", "chest pain history", []float32{1, 0, 0, 0}},
		{"00000000-0000-0000-0000-000000000002", "p1", "medication list", []float32{0, 1, 0, 0}},
		{"00000000-0000-0000-0000-000000000003", "p2", "other patient", []float32{1, 0, 0, 0}},
	}
	for _, c := range chunks {
		if err := st.IndexChunk(ctx, c.id, c.patient, c.content, c.embedding); err != nil {
			t.Fatalf("index chunk: %v", err)
		}
	}

	docs, err := st.SearchPatientContext(ctx, "p1", []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2 (patient-scoped)", len(docs))
	}
	if docs[0].Content != "chest pain history" {
		t.Fatalf("want most similar chunk first, got %q", docs[0].Content)
	}
}
