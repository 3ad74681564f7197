// Package store defines the persistence interfaces for the relational side
// of the conversation mirror: the append-only turn table, the admin prompt
// history, and the patient reference-chunk index used by the diagnosis
// pipeline.
//
// The concrete PostgreSQL implementation lives in the postgres sub-package;
// the chat-history log (the secondary store of the dual-write mirror) lives
// in the chatlog sub-package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoPrompt is returned by prompt lookups when no admin-authored prompt
// has ever been recorded. Callers fall back to their built-in defaults.
var ErrNoPrompt = errors.New("store: no prompt recorded")

// Turn is one persisted conversation turn. Turns are append-only: nothing
// in this subsystem ever updates or deletes a row.
type Turn struct {
	// SessionID identifies the simulation session the turn belongs to.
	SessionID string

	// StudentSent is true for turns spoken by the student (user role) and
	// false for turns spoken by the simulated patient (assistant role).
	StudentSent bool

	// Content is the turn's text.
	Content string

	// Empathy holds the raw empathy-evaluation JSON attached to the turn,
	// or nil when the turn was persisted without an evaluation.
	Empathy json.RawMessage

	// SentAt is the turn timestamp. The zero value means "now".
	SentAt time.Time
}

// TurnStore appends conversation turns.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn Turn) error
}

// PromptStore retrieves the latest admin-authored prompt texts. Both methods
// return [ErrNoPrompt] when the corresponding history table is empty.
type PromptStore interface {
	// LatestSystemPrompt returns the most recently created system prompt.
	LatestSystemPrompt(ctx context.Context) (string, error)

	// LatestEmpathyPrompt returns the most recently created empathy
	// evaluation prompt template.
	LatestEmpathyPrompt(ctx context.Context) (string, error)
}

// ReferenceDoc is one patient reference document returned by similarity
// search, most similar first.
type ReferenceDoc struct {
	Content  string
	Distance float64
}

// ReferenceSearcher retrieves patient reference documents by embedding
// similarity. Used by the diagnosis pipeline; retrieval failures there are
// non-fatal by design.
type ReferenceSearcher interface {
	SearchPatientContext(ctx context.Context, patientID string, embedding []float32, topK int) ([]ReferenceDoc, error)
}
