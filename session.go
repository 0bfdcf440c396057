// session.go: Authenticated session lifecycle with sliding expiry.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"fmt"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// DefaultSessionIdleTimeout is the sliding-window timeout applied when a
// manager is created with a non-positive timeout.
const DefaultSessionIdleTimeout = 30 * time.Minute

// Session is an authenticated principal's live session. LastActive advances
// on every successful access; the session expires when it stays idle past
// the manager's timeout.
type Session struct {
	ID         string            `json:"id"`
	Subject    string            `json:"subject"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Terminated bool              `json:"terminated"`
}

// SessionManager tracks live sessions. Expired and terminated sessions stay
// in the table, invisible to lookups, until SweepExpired reclaims them; a
// lookup of such a session fails without resurrecting it.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	now         func() time.Time
}

// NewSessionManager creates a manager with the given sliding idle timeout.
func NewSessionManager(idleTimeout time.Duration) *SessionManager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionIdleTimeout
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         timecache.CachedTime,
	}
}

// Create opens a session for subject. Attributes are copied.
func (sm *SessionManager) Create(subject string, attributes map[string]string) (*Session, error) {
	if subject == "" {
		richErr := goerrors.New(ErrCodeSessionExpired, "session subject cannot be empty")
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, richErr)
	}

	now := sm.now()
	s := &Session{
		ID:         uuid.New().String(),
		Subject:    subject,
		CreatedAt:  now,
		LastActive: now,
	}
	if len(attributes) > 0 {
		s.Attributes = make(map[string]string, len(attributes))
		for k, v := range attributes {
			s.Attributes[k] = v
		}
	}

	sm.mu.Lock()
	sm.sessions[s.ID] = s
	sm.mu.Unlock()

	return s.copy(), nil
}

// Get returns a snapshot of the session and slides its activity window.
// Unknown, terminated, and idle-expired sessions all report
// ErrSessionExpired; expiry is checked before the window slides, so an
// expired session cannot be revived by looking it up.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[id]
	if !ok {
		richErr := goerrors.New(ErrCodeSessionExpired, fmt.Sprintf("unknown session %s", id))
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, richErr)
	}
	now := sm.now()
	if s.Terminated || sm.expired(s, now) {
		richErr := goerrors.New(ErrCodeSessionExpired, fmt.Sprintf("session %s expired", id))
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, richErr)
	}
	s.LastActive = now
	return s.copy(), nil
}

// Touch slides the session's activity window without returning it.
func (sm *SessionManager) Touch(id string) error {
	_, err := sm.Get(id)
	return err
}

// IsValid reports whether the subject has at least one live session.
func (sm *SessionManager) IsValid(subject string) bool {
	now := sm.now()

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, s := range sm.sessions {
		if s.Subject == subject && !s.Terminated && !sm.expired(s, now) {
			return true
		}
	}
	return false
}

// Terminate marks the session as ended. Terminating an unknown or already
// terminated session is a no-op.
func (sm *SessionManager) Terminate(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[id]; ok {
		s.Terminated = true
	}
}

// TerminateAllForSubject ends every session belonging to subject and
// reports how many were ended.
func (sm *SessionManager) TerminateAllForSubject(subject string) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	n := 0
	for _, s := range sm.sessions {
		if s.Subject == subject && !s.Terminated {
			s.Terminated = true
			n++
		}
	}
	return n
}

// SweepExpired removes terminated and idle-expired sessions from the table
// and reports how many were reclaimed.
func (sm *SessionManager) SweepExpired() int {
	now := sm.now()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, s := range sm.sessions {
		if s.Terminated || sm.expired(s, now) {
			delete(sm.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveCount reports the number of live sessions.
func (sm *SessionManager) ActiveCount() int {
	now := sm.now()

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	n := 0
	for _, s := range sm.sessions {
		if !s.Terminated && !sm.expired(s, now) {
			n++
		}
	}
	return n
}

// A session is valid only while now - lastActive < idleTimeout; at exactly
// the timeout it is already expired.
func (sm *SessionManager) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActive) >= sm.idleTimeout
}

func (s *Session) copy() *Session {
	dup := *s
	if s.Attributes != nil {
		dup.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			dup.Attributes[k] = v
		}
	}
	return &dup
}
