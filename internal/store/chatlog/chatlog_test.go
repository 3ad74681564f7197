package chatlog

import (
	"context"
	"strings"
	"testing"
)

func TestMemoryRecentWindow(t *testing.T) {
	t.Parallel()

	log := NewMemory()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := log.Append(ctx, "s1", role, strings.Repeat("x", i+1)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := log.Append(ctx, "other", RoleUser, "unrelated"); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := log.Recent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("got %d messages, want 10", len(msgs))
	}
	// Chronological order: the last message is the longest.
	if len(msgs[9].Content) != 15 {
		t.Fatalf("want newest message last, got %q", msgs[9].Content)
	}
}

func TestFormatHistory(t *testing.T) {
	t.Parallel()

	got := FormatHistory([]Message{
		{Role: RoleUser, Content: "  hello\nthere  "},
		{Role: RoleAssistant, Content: `I feel "dizzy"`},
	})

	want := "User: hello there\nAssistant: I feel \\\"dizzy\\\""
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	t.Parallel()

	if got := FormatHistory(nil); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
