package voice

import "context"

// Synthesizer renders one chunk of text as audio. The mode name travels with
// the call because some providers shade delivery per conversation mode.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, modeName string) ([]byte, error)
}

// Transcriber turns user audio into text. An empty transcript means the
// provider heard nothing usable.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}
