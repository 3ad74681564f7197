package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/vireomed/bedside/internal/store"
)

// IndexChunk upserts one pre-embedded patient reference chunk. Ingestion of
// patient documents happens out of band; this entry point exists for that
// tooling and for tests.
func (s *Store) IndexChunk(ctx context.Context, chunkID, patientID, content string, embedding []float32) error {
	const q = `
		INSERT INTO patient_chunks (chunk_id, patient_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chunk_id) DO UPDATE SET
		    patient_id = EXCLUDED.patient_id,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q,
		chunkID,
		patientID,
		content,
		pgvector.NewVector(embedding),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: index chunk: %w", err)
	}
	return nil
}

// SearchPatientContext implements [store.ReferenceSearcher]. It finds the
// topK reference chunks for patientID whose embeddings are closest (cosine
// distance) to the query embedding, most similar first.
func (s *Store) SearchPatientContext(ctx context.Context, patientID string, embedding []float32, topK int) ([]store.ReferenceDoc, error) {
	const q = `
		SELECT content, embedding <=> $1 AS distance
		FROM   patient_chunks
		WHERE  patient_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), patientID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search patient context: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ReferenceDoc, error) {
		var doc store.ReferenceDoc
		if err := row.Scan(&doc.Content, &doc.Distance); err != nil {
			return store.ReferenceDoc{}, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan reference docs: %w", err)
	}
	if docs == nil {
		docs = []store.ReferenceDoc{}
	}
	return docs, nil
}
