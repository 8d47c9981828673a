package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockProvider produces deterministic audio and transcripts for local runs
// and tests. Synthesized audio encodes its inputs so tests can tell chunks
// apart; SynthesizeCalls counts real synthesis work for cache assertions.
type MockProvider struct {
	mu              sync.Mutex
	synthesizeCalls int

	// TranscriptFor, when set, overrides the canned transcript.
	TranscriptFor func(audio []byte) string

	// SynthesizeErr, when set, fails every synthesis call.
	SynthesizeErr error
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Synthesize(ctx context.Context, text, voiceID, modeName string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	p.mu.Lock()
	p.synthesizeCalls++
	p.mu.Unlock()
	return []byte(fmt.Sprintf("audio[%s|%s|%s]", voiceID, modeName, strings.TrimSpace(text))), nil
}

func (p *MockProvider) SynthesizeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synthesizeCalls
}

func (p *MockProvider) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if p.TranscriptFor != nil {
		return p.TranscriptFor(audio), nil
	}
	if len(audio) == 0 {
		return "", nil
	}
	return "mock transcript", nil
}
