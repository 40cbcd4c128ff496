package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// SessionManager holds one Session per signed-in browser, keyed by a random
// session ID kept in a cookie.
type SessionManager struct {
	provider  IdentityProvider
	blobs     BlobStore
	admins    *AllowList
	resumeKey string
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewSessionManager creates a manager whose sessions expire after ttl idle.
func NewSessionManager(provider IdentityProvider, blobs BlobStore, admins *AllowList, resumeKey string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		provider:  provider,
		blobs:     blobs,
		admins:    admins,
		resumeKey: resumeKey,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*sessionEntry),
	}
}

// SignIn creates a session for credential and returns its ID. Idle
// sessions are swept first, so the map only grows with live sessions.
func (m *SessionManager) SignIn(ctx context.Context, credential string) (string, *Session, error) {
	sess := NewSession(m.provider, m.blobs, m.admins, m.resumeKey)
	if _, err := sess.SignIn(ctx, credential); err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	m.mu.Lock()
	now := m.now()
	m.sweepLocked(now)
	m.sessions[id] = &sessionEntry{session: sess, lastSeen: now}
	m.mu.Unlock()
	return id, sess, nil
}

func (m *SessionManager) expired(entry *sessionEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(entry.lastSeen) > m.ttl
}

// sweepLocked drops every idle session. m.mu must be held.
func (m *SessionManager) sweepLocked(now time.Time) {
	n := 0
	for id, entry := range m.sessions {
		if m.expired(entry, now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		log.WithField("count", n).Debug("Swept idle sessions")
	}
}

// Get returns the live session for id, or nil.
func (m *SessionManager) Get(id string) *Session {
	if id == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil
	}
	now := m.now()
	if m.expired(entry, now) {
		delete(m.sessions, id)
		log.WithField("session", id).Debug("Session expired")
		return nil
	}
	entry.lastSeen = now
	return entry.session
}

// SignOut signs the session out and forgets it.
func (m *SessionManager) SignOut(ctx context.Context, id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return entry.session.SignOut(ctx)
}

// ResumeURL resolves the public résumé URL without a session.
func (m *SessionManager) ResumeURL(ctx context.Context) (string, error) {
	return m.blobs.URL(ctx, m.resumeKey)
}
