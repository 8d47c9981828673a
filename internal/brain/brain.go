package brain

import (
	"context"

	"github.com/mfalda/parla/internal/session"
)

// DeltaHandler receives response text incrementally as the model produces it.
// Returning an error aborts the stream.
type DeltaHandler func(delta string) error

// Request carries one completion call. Messages already include the system
// prompt and the compacted history.
type Request struct {
	Messages    []session.Message
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Text string
}

// Streamer produces model responses. StreamResponse delivers deltas as they
// arrive and returns the full text; Complete is the non-streaming form used
// for history summaries.
type Streamer interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
	Complete(ctx context.Context, req Request) (Response, error)
}
