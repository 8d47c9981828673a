package session

import (
	"context"
	"strings"
)

// Summarizer produces a short summary of older conversation turns. The brain
// package provides one; Compact falls back to truncation when it fails so
// compaction never blocks a turn.
type Summarizer func(ctx context.Context, msgs []Message) (string, error)

const summaryFallbackRunes = 400

// Compact bounds history growth: once the message count exceeds threshold,
// turns older than the keepRecent most recent ones are folded into a single
// summary line appended to the system prompt. The recent tail is preserved
// verbatim and never reordered. Returns the (possibly unchanged) history and
// whether compaction happened.
func Compact(ctx context.Context, msgs []Message, threshold, keepRecent int, summarize Summarizer) ([]Message, bool) {
	if threshold <= 0 || len(msgs) <= threshold {
		return msgs, false
	}
	if keepRecent <= 0 || len(msgs) <= keepRecent+1 {
		return msgs, false
	}

	head := 0
	system := Message{Role: RoleSystem}
	if msgs[0].Role == RoleSystem {
		system = msgs[0]
		head = 1
	}

	older := msgs[head : len(msgs)-keepRecent]
	if len(older) == 0 {
		return msgs, false
	}

	summary := ""
	if summarize != nil {
		if s, err := summarize(ctx, older); err == nil {
			summary = strings.TrimSpace(s)
		}
	}
	if summary == "" {
		summary = truncateSummary(older)
	}

	system.Content = strings.TrimSpace(system.Content + "\n\nEarlier in this conversation (summarized): " + summary)

	out := make([]Message, 0, keepRecent+1)
	out = append(out, system)
	out = append(out, msgs[len(msgs)-keepRecent:]...)
	return out, true
}

// truncateSummary is the deterministic fallback: the older turns joined and
// clipped to a fixed rune budget.
func truncateSummary(older []Message) string {
	var b strings.Builder
	for _, m := range older {
		if m.Role == RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	runes := []rune(b.String())
	if len(runes) > summaryFallbackRunes {
		return string(runes[:summaryFallbackRunes]) + "…"
	}
	return b.String()
}
