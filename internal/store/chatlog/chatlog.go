// Package chatlog implements the chat-history side of the dual-write
// conversation mirror: an append-only per-session log of (role, content)
// messages, used to rebuild the recent-history text injected into the system
// prompt at session start.
//
// The chat log is deliberately independent of the relational messages table:
// a failed append on one store never suppresses the write to the other, and
// failures here are logged, not propagated to the dispatch path.
package chatlog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Role values for chat log messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat log entry.
type Message struct {
	Role    string
	Content string
}

// Log is the chat-history store. Implementations must be safe for
// concurrent use; appends arrive from fire-and-forget background tasks.
type Log interface {
	// Append adds one message to the session's log.
	Append(ctx context.Context, sessionID, role, content string) error

	// Recent returns up to n of the session's most recent messages in
	// chronological order.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
}

// FormatHistory renders messages as the plain-text block injected into the
// system prompt: one "User: …" or "Assistant: …" line per message, with the
// content trimmed, inner newlines flattened to spaces, and any remaining
// special characters JSON-escaped (without the outer quotes).
func FormatHistory(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		role := "Assistant"
		if m.Role == RoleUser {
			role = "User"
		}
		content := strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " ")
		lines = append(lines, role+": "+escapeContent(content))
	}
	return strings.Join(lines, "\n")
}

// escapeContent JSON-escapes s and strips the surrounding quotes, so quotes
// and control characters inside a turn cannot break the line-oriented
// history format.
func escapeContent(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(data[1 : len(data)-1])
}

// Memory is an in-process Log used by tests and by deployments without a
// chat-history database. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	sessions map[string][]Message
}

// Compile-time interface check.
var _ Log = (*Memory)(nil)

// NewMemory creates an empty in-memory chat log.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Message)}
}

// Append implements [Log].
func (m *Memory) Append(_ context.Context, sessionID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], Message{Role: role, Content: content})
	return nil
}

// Recent implements [Log].
func (m *Memory) Recent(_ context.Context, sessionID string, n int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.sessions[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
