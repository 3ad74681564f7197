package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vireomed/bedside/internal/store"
)

// InsertTurn implements [store.TurnStore]. It appends one row to the
// messages table. The table is append-only; duplicate content from the
// backup persistence path is tolerated by design and not deduplicated here.
func (s *Store) InsertTurn(ctx context.Context, turn store.Turn) error {
	const q = `
		INSERT INTO messages (session_id, student_sent, message_content, time_sent, empathy_evaluation)
		VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb))`

	sentAt := turn.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	var empathy any
	if len(turn.Empathy) > 0 {
		empathy = []byte(turn.Empathy)
	}

	_, err := s.pool.Exec(ctx, q,
		turn.SessionID,
		turn.StudentSent,
		turn.Content,
		sentAt,
		empathy,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert turn: %w", err)
	}
	return nil
}
