package app

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/model"
)

// Session is one live conversation bound to a single document fingerprint
// for its whole lifetime. Turns are append-only and only mutated while the
// session lock is held.
type Session struct {
	ID          string
	Fingerprint string
	Locator     string
	Subject     string
	CreatedAt   time.Time

	mu    sync.Mutex
	turns []model.Turn
}

// Turns returns a copy of the committed turns in order.
func (s *Session) Turns() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// SessionManager owns the in-process session table. Sessions live for the
// process lifetime; concurrent messages to one session serialize on the
// session's own lock, not on the table lock.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

func (m *SessionManager) Create(fp, locator, subject string) *Session {
	session := &Session{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Locator:     locator,
		Subject:     subject,
		CreatedAt:   time.Now(),
	}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	return session
}

func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
