package voice

import (
	"sync"
	"sync/atomic"
)

// Token marks one generation turn. Cancellation is one way: once cancelled a
// token never reads false again, and the turn holding it must stop emitting.
type Token struct {
	cancelled atomic.Bool
}

func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// CancelRegistry tracks the active generation token per session. Registering
// a turn cancels whatever turn was active before it, which is exactly the
// barge-in rule: new input silences the reply in flight.
type CancelRegistry struct {
	mu     sync.Mutex
	active map[string]*Token
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{active: make(map[string]*Token)}
}

// Register installs a fresh token for the session and reports whether a
// previous turn was cancelled to make room.
func (r *CancelRegistry) Register(sessionID string) (*Token, bool) {
	token := &Token{}
	r.mu.Lock()
	prev := r.active[sessionID]
	r.active[sessionID] = token
	r.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		return token, true
	}
	return token, false
}

// CancelActive cancels the session's current turn without starting a new one.
func (r *CancelRegistry) CancelActive(sessionID string) bool {
	r.mu.Lock()
	token := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()

	if token == nil {
		return false
	}
	token.Cancel()
	return true
}

// Release clears the session's slot if token is still the active turn. A
// finished turn must not clobber the token of the turn that displaced it.
func (r *CancelRegistry) Release(sessionID string, token *Token) {
	r.mu.Lock()
	if r.active[sessionID] == token {
		delete(r.active, sessionID)
	}
	r.mu.Unlock()
}
