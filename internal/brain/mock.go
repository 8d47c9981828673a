package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/mfalda/parla/internal/session"
)

// MockStreamer produces deterministic local replies when no upstream model is
// configured. Replies are split on whitespace and delivered word by word so
// downstream streaming paths are exercised the same way a real model would.
type MockStreamer struct{}

func NewMockStreamer() *MockStreamer { return &MockStreamer{} }

func (s *MockStreamer) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	text := buildMockReply(req)
	var out strings.Builder
	for _, word := range strings.SplitAfter(text, " ") {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		out.WriteString(word)
		if onDelta != nil {
			if err := onDelta(word); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: out.String()}, nil
}

func (s *MockStreamer) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			input := strings.TrimSpace(req.Messages[i].Content)
			if input != "" {
				return fmt.Sprintf("I heard you say: %s. Tell me more.", input)
			}
			break
		}
	}
	return "I am listening. Tell me more."
}
