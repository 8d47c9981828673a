package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mfalda/parla/internal/archive"
	"github.com/mfalda/parla/internal/config"
	"github.com/mfalda/parla/internal/mode"
	"github.com/mfalda/parla/internal/observability"
	"github.com/mfalda/parla/internal/ratelimit"
	"github.com/mfalda/parla/internal/session"
	"github.com/mfalda/parla/internal/voice"
)

// Orchestrator is the generation pipeline behind the websocket.
type Orchestrator interface {
	HandleText(ctx context.Context, em voice.Emitter, sessionID, text string, interrupted bool)
	HandleAudio(ctx context.Context, em voice.Emitter, sessionID, audioBase64, mimeType string, interrupted bool)
	Interrupt(sessionID string) bool
}

type Server struct {
	cfg          config.Config
	store        session.Store
	limiter      ratelimit.Limiter
	turns        archive.Store
	orchestrator Orchestrator
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(
	cfg config.Config,
	store session.Store,
	limiter ratelimit.Limiter,
	turns archive.Store,
	orchestrator Orchestrator,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:          cfg,
		store:        store,
		limiter:      limiter,
		turns:        turns,
		orchestrator: orchestrator,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections by default, so another
				// site cannot drive a user's conversation session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/modes", s.handleListModes)
	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/{id}/transcript", s.handleTranscript)
	r.Get("/v1/session/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	count, err := s.store.Count(ctx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "session store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": count,
	})
}

type modeInfo struct {
	Mode        string `json:"mode"`
	DisplayName string `json:"display_name"`
	VoiceID     string `json:"voice_id"`
}

func (s *Server) handleListModes(w http.ResponseWriter, _ *http.Request) {
	profiles := mode.All()
	out := make([]modeInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, modeInfo{Mode: string(p.Mode), DisplayName: p.DisplayName, VoiceID: p.VoiceID})
	}
	respondJSON(w, http.StatusOK, map[string]any{"modes": out})
}

type createSessionRequest struct {
	Mode     string `json:"mode"`
	Language string `json:"language"`
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	Mode         string `json:"mode"`
	VoiceID      string `json:"voice_id"`
	Language     string `json:"language,omitempty"`
	SessionTTLMS int64  `json:"session_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	m, err := mode.Parse(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_mode", err.Error())
		return
	}
	profile := mode.ProfileFor(m)

	sess := &session.Session{
		ID:       uuid.NewString(),
		Mode:     m,
		VoiceID:  profile.VoiceID,
		Language: strings.TrimSpace(req.Language),
		Messages: []session.Message{{Role: session.RoleSystem, Content: profile.SystemPrompt}},
	}
	if err := s.store.Put(r.Context(), sess); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "could not create session")
		return
	}

	s.updateActiveSessions(r.Context())
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:    sess.ID,
		Mode:         string(sess.Mode),
		VoiceID:      sess.VoiceID,
		Language:     sess.Language,
		SessionTTLMS: s.cfg.SessionTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	if _, err := s.store.Get(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}

	s.orchestrator.Interrupt(id)
	if err := s.store.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "could not end session")
		return
	}
	s.limiter.Clear(r.Context(), id)

	s.updateActiveSessions(r.Context())
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "ended"})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	records, err := s.turns.SessionTranscript(r.Context(), id, 200)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "archive_unavailable", "could not load transcript")
		return
	}
	if records == nil {
		records = []archive.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": records})
}

func (s *Server) updateActiveSessions(ctx context.Context) {
	if count, err := s.store.Count(ctx); err == nil {
		s.metrics.ActiveSessions.Set(float64(count))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
