package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vireomed/bedside/internal/store"
)

// LatestSystemPrompt implements [store.PromptStore]. It returns the most
// recently created admin-authored system prompt, or [store.ErrNoPrompt]
// when the history is empty.
func (s *Store) LatestSystemPrompt(ctx context.Context) (string, error) {
	return s.latestPrompt(ctx, "system_prompt_history")
}

// LatestEmpathyPrompt implements [store.PromptStore]. It returns the most
// recently created empathy evaluation template, or [store.ErrNoPrompt] when
// the history is empty.
func (s *Store) LatestEmpathyPrompt(ctx context.Context) (string, error) {
	return s.latestPrompt(ctx, "empathy_prompt_history")
}

func (s *Store) latestPrompt(ctx context.Context, table string) (string, error) {
	// table is one of two compile-time constants, never user input.
	q := fmt.Sprintf(`
		SELECT prompt_content
		FROM   %s
		ORDER  BY created_at DESC
		LIMIT  1`, table)

	var content string
	err := s.pool.QueryRow(ctx, q).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNoPrompt
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: latest prompt from %s: %w", table, err)
	}
	return content, nil
}
