// Package mock provides in-memory test doubles for the store interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vireomed/bedside/internal/store"
)

// Compile-time assertions.
var (
	_ store.TurnStore         = (*TurnStore)(nil)
	_ store.PromptStore       = (*PromptStore)(nil)
	_ store.ReferenceSearcher = (*ReferenceSearcher)(nil)
)

// TurnStore records inserted turns.
type TurnStore struct {
	mu sync.Mutex

	// InsertErr, if non-nil, is returned by every InsertTurn call.
	InsertErr error

	turns []store.Turn
}

// InsertTurn implements [store.TurnStore].
func (s *TurnStore) InsertTurn(_ context.Context, turn store.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.turns = append(s.turns, turn)
	return nil
}

// Turns returns a copy of all inserted turns.
func (s *TurnStore) Turns() []store.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// PromptStore serves fixed prompt texts.
type PromptStore struct {
	// SystemPrompt and EmpathyPrompt are returned by the lookups. An empty
	// value makes the lookup return the configured error or
	// [store.ErrNoPrompt].
	SystemPrompt  string
	EmpathyPrompt string

	// SystemErr and EmpathyErr override the lookup result when non-nil.
	SystemErr  error
	EmpathyErr error
}

// LatestSystemPrompt implements [store.PromptStore].
func (s *PromptStore) LatestSystemPrompt(context.Context) (string, error) {
	if s.SystemErr != nil {
		return "", s.SystemErr
	}
	if s.SystemPrompt == "" {
		return "", store.ErrNoPrompt
	}
	return s.SystemPrompt, nil
}

// LatestEmpathyPrompt implements [store.PromptStore].
func (s *PromptStore) LatestEmpathyPrompt(context.Context) (string, error) {
	if s.EmpathyErr != nil {
		return "", s.EmpathyErr
	}
	if s.EmpathyPrompt == "" {
		return "", store.ErrNoPrompt
	}
	return s.EmpathyPrompt, nil
}

// ReferenceSearcher serves a fixed result set.
type ReferenceSearcher struct {
	mu sync.Mutex

	// Docs is returned by every search.
	Docs []store.ReferenceDoc

	// SearchErr, if non-nil, is returned instead.
	SearchErr error

	// SearchCalls records the patient id of every search in order.
	SearchCalls []string
}

// SearchPatientContext implements [store.ReferenceSearcher].
func (s *ReferenceSearcher) SearchPatientContext(_ context.Context, patientID string, _ []float32, topK int) ([]store.ReferenceDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, patientID)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	docs := s.Docs
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}
