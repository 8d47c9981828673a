package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mfalda/parla/internal/mode"
	"github.com/mfalda/parla/internal/protocol"
	"github.com/mfalda/parla/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

// wsEmitter funnels orchestrator output into the single writer goroutine.
type wsEmitter struct {
	ctx      context.Context
	outbound chan<- any
}

func (e *wsEmitter) Emit(msg any) error {
	select {
	case <-e.ctx.Done():
		return e.ctx.Err()
	case e.outbound <- msg:
		return nil
	}
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.store.Get(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	em := &wsEmitter{ctx: ctx, outbound: outbound}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(int64(s.cfg.MaxAudioBytes)*2 + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	// Turns run off the read loop on a serial runner so admission order is
	// frame order: the read loop cancels the in-flight generation before
	// queueing, and the cancelled turn winds down at its next checkpoint
	// while the new one waits its turn in the queue.
	turnQueue := make(chan func(), 16)
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case run := <-turnQueue:
				run()
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = em.Emit(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.TextMessage:
			if msg.SessionID != sessionID {
				s.rejectForeignSession(em, sessionID)
				continue
			}
			bargedIn := s.bargeIn(sessionID)
			text := msg.Text
			s.queueTurn(ctx, turnQueue, func() {
				s.orchestrator.HandleText(ctx, em, sessionID, text, bargedIn)
			})
		case protocol.AudioMessage:
			if msg.SessionID != sessionID {
				s.rejectForeignSession(em, sessionID)
				continue
			}
			bargedIn := s.bargeIn(sessionID)
			interrupted := msg.Interrupted || bargedIn
			audio, mime := msg.AudioBase64, msg.MimeType
			s.queueTurn(ctx, turnQueue, func() {
				s.orchestrator.HandleAudio(ctx, em, sessionID, audio, mime, interrupted)
			})
		case protocol.ClientControl:
			if msg.SessionID != sessionID {
				s.rejectForeignSession(em, sessionID)
				continue
			}
			s.handleControl(ctx, em, sessionID, msg)
		}
	}

	cancel()
	<-runnerDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// bargeIn cancels the session's in-flight generation, if any, before a new
// user turn is queued.
func (s *Server) bargeIn(sessionID string) bool {
	if !s.orchestrator.Interrupt(sessionID) {
		return false
	}
	s.metrics.SessionEvents.WithLabelValues("barge_in").Inc()
	return true
}

// queueTurn hands a turn to the serial runner, giving up if the connection
// is shutting down.
func (s *Server) queueTurn(ctx context.Context, queue chan<- func(), run func()) {
	select {
	case <-ctx.Done():
	case queue <- run:
	}
}

func (s *Server) handleControl(ctx context.Context, em *wsEmitter, sessionID string, msg protocol.ClientControl) {
	switch msg.Action {
	case "start":
		s.startConversation(ctx, em, sessionID, msg)
	case "interrupt":
		cancelled := s.orchestrator.Interrupt(sessionID)
		code := "nothing_to_interrupt"
		if cancelled {
			code = "interrupted"
		}
		_ = em.Emit(protocol.StatusEvent{
			Type:      protocol.TypeStatusEvent,
			SessionID: sessionID,
			Code:      code,
		})
	case "reset":
		s.orchestrator.Interrupt(sessionID)
		sess, err := s.store.Get(ctx, sessionID)
		if err != nil {
			_ = em.Emit(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "session_not_found",
				Source:    "session",
			})
			return
		}
		// Keep only the system prompt; the conversation starts over.
		if len(sess.Messages) > 0 && sess.Messages[0].Role == session.RoleSystem {
			sess.Messages = sess.Messages[:1]
		} else {
			sess.Messages = nil
		}
		sess.ExchangeCount = 0
		sess.Generating = false
		if err := s.store.Put(ctx, sess); err != nil {
			_ = em.Emit(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "store_unavailable",
				Source:    "session",
				Retryable: true,
			})
			return
		}
		_ = em.Emit(protocol.StatusEvent{
			Type:      protocol.TypeStatusEvent,
			SessionID: sessionID,
			Code:      "reset",
		})
	default:
		_ = em.Emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "unknown_action",
			Source:    "gateway",
		})
	}
}

// startConversation switches an existing session onto a new mode and language
// and restarts the history from that mode's system prompt. An in-flight
// generation is cancelled first so nothing from the old mode keeps streaming.
func (s *Server) startConversation(ctx context.Context, em *wsEmitter, sessionID string, msg protocol.ClientControl) {
	m, err := mode.Parse(msg.Mode)
	if err != nil {
		_ = em.Emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "unknown_mode",
			Source:    "gateway",
		})
		return
	}
	profile := mode.ProfileFor(m)

	s.orchestrator.Interrupt(sessionID)
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		_ = em.Emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "session_not_found",
			Source:    "session",
		})
		return
	}

	sess.Mode = m
	sess.VoiceID = profile.VoiceID
	if lang := strings.TrimSpace(msg.Language); lang != "" {
		sess.Language = lang
	}
	sess.Messages = []session.Message{{Role: session.RoleSystem, Content: profile.SystemPrompt}}
	sess.ExchangeCount = 0
	sess.Generating = false
	if err := s.store.Put(ctx, sess); err != nil {
		_ = em.Emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "store_unavailable",
			Source:    "session",
			Retryable: true,
		})
		return
	}
	_ = em.Emit(protocol.StatusEvent{
		Type:      protocol.TypeStatusEvent,
		SessionID: sessionID,
		Code:      "started",
		Message:   string(m),
	})
}

func (s *Server) rejectForeignSession(em *wsEmitter, sessionID string) {
	_ = em.Emit(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "session_mismatch",
		Source:    "gateway",
	})
}
