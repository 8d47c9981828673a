package archive

import (
	"context"
	"time"
)

// TurnRecord is one completed exchange, kept for transcript export after the
// live session state has expired.
type TurnRecord struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	TurnID        string    `json:"turn_id"`
	Mode          string    `json:"mode"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Outcome       string    `json:"outcome"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists completed turns. Archival is best effort: a failed write
// never fails the turn that produced it.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	SessionTranscript(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
