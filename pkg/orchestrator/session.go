package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/vona/pkg/services"
)

// Session is one logical voice interaction owned by the orchestrator.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	pendingAction  *services.Action
	lastTranscript string
	lastResult     string
	lastError      error
}

func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) PendingAction() *services.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingAction
}

func (s *Session) SetPendingAction(a *services.Action) {
	s.mu.Lock()
	s.pendingAction = a
	s.mu.Unlock()
}

func (s *Session) LastTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTranscript
}

func (s *Session) SetLastTranscript(t string) {
	s.mu.Lock()
	s.lastTranscript = t
	s.mu.Unlock()
}

func (s *Session) LastResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Session) SetLastResult(r string) {
	s.mu.Lock()
	s.lastResult = r
	s.mu.Unlock()
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Session) SetLastError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// Clear wipes the per-cycle state while keeping the session identity.
func (s *Session) Clear() {
	s.mu.Lock()
	s.pendingAction = nil
	s.lastTranscript = ""
	s.lastError = nil
	s.mu.Unlock()
}
