package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mfalda/parla/internal/archive"
	"github.com/mfalda/parla/internal/config"
	"github.com/mfalda/parla/internal/mode"
	"github.com/mfalda/parla/internal/observability"
	"github.com/mfalda/parla/internal/protocol"
	"github.com/mfalda/parla/internal/ratelimit"
	"github.com/mfalda/parla/internal/session"
	"github.com/mfalda/parla/internal/voice"
)

type stubOrchestrator struct {
	mu         sync.Mutex
	interrupts []string
	texts      []string
	flags      []bool
	active     bool
	reportBusy bool
	turnDelay  time.Duration
}

func (s *stubOrchestrator) HandleText(ctx context.Context, em voice.Emitter, sessionID, text string, interrupted bool) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.flags = append(s.flags, interrupted)
	s.active = true
	delay := s.turnDelay
	s.mu.Unlock()

	_ = em.Emit(protocol.TextChunk{Type: protocol.TypeTextChunk, SessionID: sessionID, TurnID: "t1", Index: 0, Text: "echo: " + text})
	if delay > 0 {
		time.Sleep(delay)
	}
	_ = em.Emit(protocol.StreamComplete{Type: protocol.TypeStreamComplete, SessionID: sessionID, TurnID: "t1", FullText: "echo: " + text, ChunkCount: 1})

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *stubOrchestrator) HandleAudio(ctx context.Context, em voice.Emitter, sessionID, audioBase64, mimeType string, interrupted bool) {
	_ = em.Emit(protocol.StatusEvent{Type: protocol.TypeStatusEvent, SessionID: sessionID, Code: "audio_received"})
}

func (s *stubOrchestrator) Interrupt(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts = append(s.interrupts, sessionID)
	return s.reportBusy || s.active
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, session.Store, *archive.InMemoryStore, *stubOrchestrator) {
	t.Helper()
	cfg := config.Config{
		SessionTimeout: time.Hour,
		MaxAudioBytes:  3 << 20,
		AllowAnyOrigin: true,
	}
	store := session.NewMemoryStore()
	turns := archive.NewInMemoryStore()
	orch := &stubOrchestrator{}
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")
	srv := New(cfg, store, ratelimit.NewMemoryLimiter(), turns, orch, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv, store, turns, orch
}

func createSession(t *testing.T, ts *httptest.Server, body string) createSessionResponse {
	t.Helper()
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/session error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/session status = %d", res.StatusCode)
	}
	var created createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return created
}

func TestCreateSessionDefaultsToGeneral(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)

	created := createSession(t, ts, `{}`)
	if created.Mode != string(mode.General) || created.VoiceID != "marin" {
		t.Fatalf("created = %+v", created)
	}
	if created.SessionTTLMS != time.Hour.Milliseconds() {
		t.Fatalf("SessionTTLMS = %d", created.SessionTTLMS)
	}

	sess, err := store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Role != session.RoleSystem {
		t.Fatalf("session should start with the system prompt: %+v", sess.Messages)
	}
}

func TestCreateSessionWithMode(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	created := createSession(t, ts, `{"mode":"language","language":"it"}`)
	if created.Mode != string(mode.Language) || created.VoiceID != "cedar" || created.Language != "it" {
		t.Fatalf("created = %+v", created)
	}
}

func TestCreateSessionRejectsUnknownMode(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewBufferString(`{"mode":"karaoke"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestEndSession(t *testing.T) {
	ts, _, store, _, orch := newTestServer(t)
	created := createSession(t, ts, `{}`)

	res, err := http.Post(ts.URL+"/v1/session/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("POST end error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", res.StatusCode)
	}

	if _, err := store.Get(context.Background(), created.SessionID); err != session.ErrNotFound {
		t.Fatalf("session should be deleted, got %v", err)
	}
	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.interrupts) != 1 {
		t.Fatalf("ending a session should interrupt its active turn")
	}
}

func TestEndUnknownSession(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/session/ghost/end", "application/json", nil)
	if err != nil {
		t.Fatalf("POST end error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestListModes(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/modes")
	if err != nil {
		t.Fatalf("GET /v1/modes error = %v", err)
	}
	defer res.Body.Close()

	var body struct {
		Modes []modeInfo `json:"modes"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Modes) != 4 {
		t.Fatalf("modes = %+v, want 4", body.Modes)
	}
}

func TestTranscript(t *testing.T) {
	ts, _, _, turns, _ := newTestServer(t)
	created := createSession(t, ts, `{}`)

	err := turns.SaveTurn(context.Background(), archive.TurnRecord{
		SessionID:     created.SessionID,
		TurnID:        "t1",
		Mode:          "general",
		UserText:      "hello",
		AssistantText: "hi there",
		Outcome:       "success",
	})
	if err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/session/" + created.SessionID + "/transcript")
	if err != nil {
		t.Fatalf("GET transcript error = %v", err)
	}
	defer res.Body.Close()

	var body struct {
		Turns []archive.TurnRecord `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Turns) != 1 || body.Turns[0].UserText != "hello" {
		t.Fatalf("transcript = %+v", body.Turns)
	}
}

func TestReadyz(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", res.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebsocketTextTurn(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)
	created := createSession(t, ts, `{}`)
	conn := dialWS(t, ts, created.SessionID)

	err := conn.WriteJSON(protocol.TextMessage{
		Type:      protocol.TypeTextMessage,
		SessionID: created.SessionID,
		Text:      "hello",
	})
	if err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var chunk protocol.TextChunk
	if err := conn.ReadJSON(&chunk); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if chunk.Type != protocol.TypeTextChunk || chunk.Text != "echo: hello" {
		t.Fatalf("chunk = %+v", chunk)
	}

	var complete protocol.StreamComplete
	if err := conn.ReadJSON(&complete); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if complete.Type != protocol.TypeStreamComplete || complete.ChunkCount != 1 {
		t.Fatalf("complete = %+v", complete)
	}
}

func TestWebsocketTurnsRunInFrameOrder(t *testing.T) {
	ts, _, _, _, orch := newTestServer(t)
	orch.turnDelay = 200 * time.Millisecond
	created := createSession(t, ts, `{}`)
	conn := dialWS(t, ts, created.SessionID)

	send := func(text string) {
		err := conn.WriteJSON(protocol.TextMessage{
			Type:      protocol.TypeTextMessage,
			SessionID: created.SessionID,
			Text:      text,
		})
		if err != nil {
			t.Fatalf("WriteJSON error = %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	send("first")
	var chunk protocol.TextChunk
	if err := conn.ReadJSON(&chunk); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if chunk.Text != "echo: first" {
		t.Fatalf("chunk = %+v", chunk)
	}

	// Second frame arrives while the first turn is still streaming. The first
	// turn must finish before the second one starts, and the second one must
	// carry the barge-in flag.
	send("second")

	var firstDone protocol.StreamComplete
	if err := conn.ReadJSON(&firstDone); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if firstDone.FullText != "echo: first" {
		t.Fatalf("events out of order, got %+v before the first turn completed", firstDone)
	}
	if err := conn.ReadJSON(&chunk); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if chunk.Text != "echo: second" {
		t.Fatalf("chunk = %+v", chunk)
	}
	var secondDone protocol.StreamComplete
	if err := conn.ReadJSON(&secondDone); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if secondDone.FullText != "echo: second" {
		t.Fatalf("complete = %+v", secondDone)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.texts) != 2 || orch.texts[0] != "first" || orch.texts[1] != "second" {
		t.Fatalf("turns = %v, want frame order", orch.texts)
	}
	if orch.flags[0] || !orch.flags[1] {
		t.Fatalf("barge-in flags = %v, only the second turn should interrupt", orch.flags)
	}
}

func TestWebsocketRejectsUnknownSession(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=ghost"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial should fail for unknown session")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %+v, want 404", res)
	}
}

func TestWebsocketInterruptControl(t *testing.T) {
	ts, _, _, _, orch := newTestServer(t)
	orch.reportBusy = true
	created := createSession(t, ts, `{}`)
	conn := dialWS(t, ts, created.SessionID)

	err := conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: created.SessionID,
		Action:    "interrupt",
	})
	if err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status protocol.StatusEvent
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if status.Code != "interrupted" {
		t.Fatalf("status = %+v", status)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.interrupts) != 1 || orch.interrupts[0] != created.SessionID {
		t.Fatalf("interrupts = %v", orch.interrupts)
	}
}

func TestWebsocketResetControl(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	created := createSession(t, ts, `{}`)

	sess, err := store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	sess.Messages = append(sess.Messages,
		session.Message{Role: session.RoleUser, Content: "hi"},
		session.Message{Role: session.RoleAssistant, Content: "hello"},
	)
	sess.ExchangeCount = 1
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	conn := dialWS(t, ts, created.SessionID)
	err = conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: created.SessionID,
		Action:    "reset",
	})
	if err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status protocol.StatusEvent
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if status.Code != "reset" {
		t.Fatalf("status = %+v", status)
	}

	after, err := store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get() after reset error = %v", err)
	}
	if len(after.Messages) != 1 || after.Messages[0].Role != session.RoleSystem {
		t.Fatalf("history not reset: %+v", after.Messages)
	}
	if after.ExchangeCount != 0 {
		t.Fatalf("ExchangeCount = %d after reset", after.ExchangeCount)
	}
}

func TestWebsocketStartControlSwitchesMode(t *testing.T) {
	ts, _, store, _, orch := newTestServer(t)
	created := createSession(t, ts, `{}`)

	sess, err := store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	sess.Messages = append(sess.Messages, session.Message{Role: session.RoleUser, Content: "hi"})
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	conn := dialWS(t, ts, created.SessionID)
	err = conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: created.SessionID,
		Action:    "start",
		Mode:      "language",
		Language:  "it",
	})
	if err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status protocol.StatusEvent
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if status.Code != "started" || status.Message != "language" {
		t.Fatalf("status = %+v", status)
	}

	after, err := store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get() after start error = %v", err)
	}
	if after.Mode != mode.Language || after.VoiceID != "cedar" || after.Language != "it" {
		t.Fatalf("session = %+v", after)
	}
	if len(after.Messages) != 1 || after.Messages[0].Role != session.RoleSystem {
		t.Fatalf("history should restart from the new system prompt: %+v", after.Messages)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.interrupts) != 1 {
		t.Fatalf("start should interrupt any in-flight generation")
	}
}

func TestWebsocketStartControlRejectsUnknownMode(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)
	created := createSession(t, ts, `{}`)
	conn := dialWS(t, ts, created.SessionID)

	err := conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: created.SessionID,
		Action:    "start",
		Mode:      "karaoke",
	})
	if err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if errEvent.Code != "unknown_mode" {
		t.Fatalf("error = %+v", errEvent)
	}
}

func TestWebsocketInvalidFrame(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)
	created := createSession(t, ts, `{}`)
	conn := dialWS(t, ts, created.SessionID)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)); err != nil {
		t.Fatalf("WriteMessage error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if errEvent.Code != "invalid_client_message" {
		t.Fatalf("error = %+v", errEvent)
	}
}
