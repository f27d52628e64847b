package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager hands out one live session per user and refcounts gateway
// attachments so a user with two tabs shares a session.
type Manager struct {
	svc    *Service
	stream EventStream
	cfg    SessionConfig
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*managedSession
}

type managedSession struct {
	session *Session
	refs    int
}

func NewManager(svc *Service, stream EventStream, cfg SessionConfig, log zerolog.Logger) *Manager {
	return &Manager{
		svc:      svc,
		stream:   stream,
		cfg:      cfg,
		log:      log,
		sessions: make(map[uuid.UUID]*managedSession),
	}
}

// Acquire returns the user's session, starting one on first use.
func (m *Manager) Acquire(ctx context.Context, userID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.sessions[userID]; ok {
		ms.refs++
		return ms.session, nil
	}

	session := NewSession(userID, m.svc, m.stream, m.cfg, m.log)
	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	m.sessions[userID] = &managedSession{session: session, refs: 1}
	return session, nil
}

// Release drops one reference and stops the session when none remain.
func (m *Manager) Release(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[userID]
	if !ok {
		return
	}
	ms.refs--
	if ms.refs > 0 {
		return
	}

	ms.session.Stop()
	delete(m.sessions, userID)
}

// Shutdown stops every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ms := range m.sessions {
		ms.session.Stop()
		delete(m.sessions, id)
	}
}
