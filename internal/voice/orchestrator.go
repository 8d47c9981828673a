package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mfalda/parla/internal/archive"
	"github.com/mfalda/parla/internal/brain"
	"github.com/mfalda/parla/internal/mode"
	"github.com/mfalda/parla/internal/observability"
	"github.com/mfalda/parla/internal/policy"
	"github.com/mfalda/parla/internal/protocol"
	"github.com/mfalda/parla/internal/ratelimit"
	"github.com/mfalda/parla/internal/session"
	"github.com/mfalda/parla/internal/ttscache"
)

// interruptedMarker prefixes a user turn that cut off the assistant, so the
// model knows its previous reply was only partially heard.
const interruptedMarker = "[INTERRUPTED]"

// Emitter delivers outbound protocol messages to one client. An error means
// the client is gone and the turn should stop.
type Emitter interface {
	Emit(msg any) error
}

// Options are the per-turn knobs the orchestrator needs.
type Options struct {
	RateLimitPerMinute       int
	RateLimitPerHour         int
	FirstChunkSentences      int
	SubsequentChunkSentences int
	MaxTextLength            int
	MaxAudioBytes            int
	TurnTimeout              time.Duration
	FirstAudioSLO            time.Duration
	HistoryCompactThreshold  int
	HistoryKeepRecent        int
	Temperature              float64
	AudioFormat              string
}

// Orchestrator runs the generation pipeline for one turn: admission, model
// streaming, chunking, synthesis, and history upkeep. It is shared by all
// connections; per-turn state lives on the stack and in the cancel registry.
type Orchestrator struct {
	store   session.Store
	limiter ratelimit.Limiter
	cache   ttscache.Cache
	model   brain.Streamer
	synth   Synthesizer
	stt     Transcriber
	turns   archive.Store
	cancels *CancelRegistry
	metrics *observability.Metrics
	opts    Options
}

func NewOrchestrator(
	store session.Store,
	limiter ratelimit.Limiter,
	cache ttscache.Cache,
	model brain.Streamer,
	synth Synthesizer,
	stt Transcriber,
	turns archive.Store,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		store:   store,
		limiter: limiter,
		cache:   cache,
		model:   model,
		synth:   synth,
		stt:     stt,
		turns:   turns,
		cancels: NewCancelRegistry(),
		metrics: metrics,
		opts:    opts,
	}
}

// HandleText runs one typed user turn.
func (o *Orchestrator) HandleText(ctx context.Context, em Emitter, sessionID, text string, interrupted bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		o.emitStatus(em, sessionID, "empty_input", "Say something and I will answer.")
		return
	}
	if len(text) > o.opts.MaxTextLength {
		o.emitError(em, sessionID, "input_too_long", "client", false)
		return
	}
	o.runTurn(ctx, em, sessionID, text, interrupted)
}

// HandleAudio transcribes one spoken user turn and runs it.
func (o *Orchestrator) HandleAudio(ctx context.Context, em Emitter, sessionID, audioBase64, mimeType string, interrupted bool) {
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		o.emitError(em, sessionID, "invalid_audio", "client", false)
		return
	}
	if len(audio) == 0 || len(audio) > o.opts.MaxAudioBytes {
		o.emitError(em, sessionID, "audio_too_large", "client", false)
		return
	}

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		o.emitError(em, sessionID, "session_not_found", "session", false)
		return
	}

	transcript, err := o.stt.Transcribe(ctx, audio, mimeType, sess.Language)
	if err != nil {
		log.Printf("voice: transcription failed for session %s: %v", sessionID, err)
		o.metrics.ProviderErrors.WithLabelValues("stt", "transcribe").Inc()
		o.emitError(em, sessionID, "transcription_failed", "stt", true)
		return
	}
	if IsTranscriptNoise(transcript) {
		o.emitStatus(em, sessionID, "not_heard", "I could not make that out, try again.")
		return
	}
	if len(transcript) > o.opts.MaxTextLength {
		transcript = transcript[:o.opts.MaxTextLength]
	}

	o.runTurn(ctx, em, sessionID, strings.TrimSpace(transcript), interrupted)
}

// Interrupt cancels the session's active turn without starting a new one.
func (o *Orchestrator) Interrupt(sessionID string) bool {
	return o.cancels.CancelActive(sessionID)
}

func (o *Orchestrator) runTurn(ctx context.Context, em Emitter, sessionID, userText string, interrupted bool) {
	if !o.limiter.Allow(ctx, sessionID, o.opts.RateLimitPerMinute, o.opts.RateLimitPerHour) {
		o.metrics.RateLimited.Inc()
		o.metrics.TurnsTotal.WithLabelValues("rate_limited").Inc()
		o.emitStatus(em, sessionID, "rate_limited", "You are sending messages too quickly, give me a moment.")
		return
	}

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		o.emitError(em, sessionID, "session_not_found", "session", false)
		return
	}

	token, bargedIn := o.cancels.Register(sessionID)
	defer o.cancels.Release(sessionID, token)
	if bargedIn {
		o.metrics.SessionEvents.WithLabelValues("barge_in").Inc()
	}

	if interrupted || bargedIn {
		userText = interruptedMarker + " " + userText
	}

	profile := mode.ProfileFor(sess.Mode)
	sess.Messages = append(sess.Messages, session.Message{Role: session.RoleUser, Content: userText})
	sess.Generating = true
	if err := o.store.Put(ctx, sess); err != nil {
		log.Printf("voice: session save failed for %s: %v", sessionID, err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	started := time.Now()
	outcome := o.streamTurn(turnCtx, em, sess, profile, token, turnID, started)
	o.metrics.TurnsTotal.WithLabelValues(outcome.label).Inc()

	assistantText := outcome.spokenText
	if assistantText != "" {
		if outcome.label == "cancelled" {
			assistantText = strings.TrimRight(assistantText, " \n") + " …"
		}
		sess.Messages = append(sess.Messages, session.Message{Role: session.RoleAssistant, Content: assistantText})
		sess.ExchangeCount++
	}
	sess.Generating = false

	sess.Messages = o.compactHistory(ctx, sess.Messages)
	if err := o.store.Put(ctx, sess); err != nil {
		log.Printf("voice: session save failed for %s: %v", sessionID, err)
	}

	if o.turns != nil && assistantText != "" {
		// Archival outlives the client context; a failed write never fails the
		// turn. PII is masked here because archived text outlives the session.
		userArchived, _ := policy.RedactPII(userText)
		assistantArchived, _ := policy.RedactPII(assistantText)
		saveCtx, cancelSave := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelSave()
		err := o.turns.SaveTurn(saveCtx, archive.TurnRecord{
			SessionID:     sessionID,
			TurnID:        turnID,
			Mode:          string(sess.Mode),
			UserText:      userArchived,
			AssistantText: assistantArchived,
			Outcome:       outcome.label,
			ChunkCount:    outcome.chunks,
		})
		if err != nil {
			log.Printf("voice: turn archive failed for session %s: %v", sessionID, err)
		}
	}
}

var errTurnCancelled = errors.New("turn cancelled")

type turnOutcome struct {
	label      string
	spokenText string
	chunks     int
}

func (o *Orchestrator) streamTurn(
	ctx context.Context,
	em Emitter,
	sess *session.Session,
	profile mode.Profile,
	token *Token,
	turnID string,
	started time.Time,
) turnOutcome {
	chunker := NewChunker(o.opts.FirstChunkSentences, o.opts.SubsequentChunkSentences)

	var spoken strings.Builder
	chunkIndex := 0
	firstAudioSent := false

	emitChunk := func(text string) error {
		if token.Cancelled() {
			return errTurnCancelled
		}
		if err := em.Emit(protocol.TextChunk{
			Type:      protocol.TypeTextChunk,
			SessionID: sess.ID,
			TurnID:    turnID,
			Index:     chunkIndex,
			Text:      text,
		}); err != nil {
			return err
		}
		spoken.WriteString(text)

		if strings.TrimSpace(text) == "" {
			chunkIndex++
			return nil
		}
		audio, err := o.synthesizeChunk(ctx, text, sess.VoiceID, string(profile.Mode), token)
		if err == errTurnCancelled {
			return err
		}
		if err != nil {
			// Text already went out; the turn degrades to text only.
			log.Printf("voice: synthesis failed for session %s chunk %d: %v", sess.ID, chunkIndex, err)
			o.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
		} else if audio != nil {
			if err := em.Emit(protocol.AudioChunk{
				Type:        protocol.TypeAudioChunk,
				SessionID:   sess.ID,
				TurnID:      turnID,
				Index:       chunkIndex,
				Format:      o.opts.AudioFormat,
				AudioBase64: base64.StdEncoding.EncodeToString(audio),
			}); err != nil {
				return err
			}
			if !firstAudioSent {
				firstAudioSent = true
				o.metrics.ObserveFirstAudioLatency(time.Since(started), o.opts.FirstAudioSLO)
			}
		}
		chunkIndex++
		return nil
	}

	res, err := o.model.StreamResponse(ctx, brain.Request{
		Messages:    sess.Messages,
		MaxTokens:   profile.MaxTokens,
		Temperature: o.opts.Temperature,
	}, func(delta string) error {
		if token.Cancelled() {
			return errTurnCancelled
		}
		for _, chunk := range chunker.Feed(delta) {
			if err := emitChunk(chunk); err != nil {
				return err
			}
		}
		return nil
	})

	if err == nil {
		for _, chunk := range chunker.Flush() {
			if err = emitChunk(chunk); err != nil {
				break
			}
		}
	}

	switch {
	case err == nil:
		fullText := res.Text
		if err := em.Emit(protocol.StreamComplete{
			Type:       protocol.TypeStreamComplete,
			SessionID:  sess.ID,
			TurnID:     turnID,
			FullText:   fullText,
			ChunkCount: chunkIndex,
		}); err != nil {
			return turnOutcome{label: "disconnected", spokenText: spoken.String(), chunks: chunkIndex}
		}
		o.metrics.ChunksPerTurn.Observe(float64(chunkIndex))
		return turnOutcome{label: "success", spokenText: fullText, chunks: chunkIndex}
	case errors.Is(err, errTurnCancelled):
		return turnOutcome{label: "cancelled", spokenText: spoken.String(), chunks: chunkIndex}
	case errors.Is(err, context.DeadlineExceeded):
		o.emitError(em, sess.ID, "turn_timeout", "brain", true)
		return turnOutcome{label: "timeout", spokenText: spoken.String(), chunks: chunkIndex}
	default:
		log.Printf("voice: model stream failed for session %s: %v", sess.ID, err)
		o.metrics.ProviderErrors.WithLabelValues("brain", "stream").Inc()
		o.emitError(em, sess.ID, "upstream_error", "brain", true)
		return turnOutcome{label: "error", spokenText: spoken.String(), chunks: chunkIndex}
	}
}

// synthesizeChunk resolves audio for one chunk through the cache. The token
// is checked on both sides of the provider call: a barge-in during synthesis
// still populates the cache, but the audio is never emitted.
func (o *Orchestrator) synthesizeChunk(ctx context.Context, text, voiceID, modeName string, token *Token) ([]byte, error) {
	key := ttscache.Key(text, voiceID, modeName)
	if audio, ok := o.cache.Get(ctx, key); ok {
		o.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return audio, nil
	}
	o.metrics.CacheLookups.WithLabelValues("miss").Inc()

	if token.Cancelled() {
		return nil, errTurnCancelled
	}
	audio, err := o.synth.Synthesize(ctx, text, voiceID, modeName)
	if err != nil {
		return nil, err
	}
	o.cache.Put(ctx, key, audio)

	if token.Cancelled() {
		return nil, errTurnCancelled
	}
	return audio, nil
}

func (o *Orchestrator) compactHistory(ctx context.Context, msgs []session.Message) []session.Message {
	out, _ := session.Compact(ctx, msgs, o.opts.HistoryCompactThreshold, o.opts.HistoryKeepRecent, func(ctx context.Context, older []session.Message) (string, error) {
		summaryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		res, err := o.model.Complete(summaryCtx, brain.Request{
			Messages: append(older, session.Message{
				Role:    session.RoleUser,
				Content: "Summarize the conversation so far in three sentences, keeping names and decisions.",
			}),
			MaxTokens: 150,
		})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	})
	return out
}

func (o *Orchestrator) emitStatus(em Emitter, sessionID, code, message string) {
	if err := em.Emit(protocol.StatusEvent{
		Type:      protocol.TypeStatusEvent,
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	}); err != nil {
		log.Printf("voice: status emit failed for session %s: %v", sessionID, err)
	}
}

func (o *Orchestrator) emitError(em Emitter, sessionID, code, source string, retryable bool) {
	if err := em.Emit(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
	}); err != nil {
		log.Printf("voice: error emit failed for session %s: %v", sessionID, err)
	}
}
