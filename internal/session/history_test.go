package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func historyOf(n int) []Message {
	msgs := []Message{{Role: RoleSystem, Content: "base prompt"}}
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return msgs
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	msgs := historyOf(10)
	out, compacted := Compact(context.Background(), msgs, 21, 12, nil)
	if compacted {
		t.Fatalf("Compact() should not fire below threshold")
	}
	if len(out) != len(msgs) {
		t.Fatalf("Compact() changed length %d -> %d", len(msgs), len(out))
	}
}

func TestCompactKeepsRecentTailVerbatim(t *testing.T) {
	msgs := historyOf(30)
	out, compacted := Compact(context.Background(), msgs, 21, 12, nil)
	if !compacted {
		t.Fatalf("Compact() should fire above threshold")
	}
	if len(out) != 13 {
		t.Fatalf("Compact() result length = %d, want 13 (system + 12 recent)", len(out))
	}
	if out[0].Role != RoleSystem {
		t.Fatalf("first message role = %q, want system", out[0].Role)
	}
	if !strings.Contains(out[0].Content, "summarized") {
		t.Fatalf("system prompt missing summary marker: %q", out[0].Content)
	}
	for i := 0; i < 12; i++ {
		want := msgs[len(msgs)-12+i]
		if out[i+1] != want {
			t.Fatalf("recent tail altered at %d: got %+v, want %+v", i, out[i+1], want)
		}
	}
}

func TestCompactUsesSummarizer(t *testing.T) {
	msgs := historyOf(30)
	out, _ := Compact(context.Background(), msgs, 21, 12, func(_ context.Context, older []Message) (string, error) {
		if len(older) == 0 {
			t.Fatalf("summarizer received no messages")
		}
		return "they discussed caching", nil
	})
	if !strings.Contains(out[0].Content, "they discussed caching") {
		t.Fatalf("summary not folded into system prompt: %q", out[0].Content)
	}
}

func TestCompactFallsBackWhenSummarizerFails(t *testing.T) {
	msgs := historyOf(30)
	out, compacted := Compact(context.Background(), msgs, 21, 12, func(_ context.Context, _ []Message) (string, error) {
		return "", errors.New("model unavailable")
	})
	if !compacted {
		t.Fatalf("Compact() should still fire when summarizer fails")
	}
	if !strings.Contains(out[0].Content, "turn 0") {
		t.Fatalf("fallback summary should contain oldest turns: %q", out[0].Content)
	}
}
