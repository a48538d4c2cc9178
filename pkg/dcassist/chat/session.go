// session.go implements the per-profile session context: the lazily
// generated session ID, the message store, the session-scoped fallback
// slot, and the optional Telegram profile link. The SessionManager keeps
// one Session per profile with idle pruning.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is the idle time before a session is pruned.
const DefaultSessionTTL = 24 * time.Hour

// TelegramProfile is the linked-profile identity used as a ranking signal
// and for the per-profile context line sent with each message.
type TelegramProfile struct {
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username"`
}

// Session is the injected session context for one profile. It owns the
// message store and carries process-lifetime state the web widget kept in
// module-level caches: the session ID and the session-scoped fallback.
type Session struct {
	ProfileID string
	CreatedAt time.Time

	store *MessageStore

	// local persists across runs; scoped lives for the process only,
	// mirroring the browser's localStorage/sessionStorage split.
	local  KV
	scoped KV

	logger *slog.Logger

	mu           sync.RWMutex
	sessionID    string
	telegram     *TelegramProfile
	lastActiveAt time.Time
}

// NewSession builds a session context over the two storage scopes.
func NewSession(profileID string, local, scoped KV, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Session{
		ProfileID:    profileID,
		CreatedAt:    now,
		store:        NewMessageStore(local, logger),
		local:        local,
		scoped:       scoped,
		logger:       logger.With("component", "session", "profile", profileID),
		lastActiveAt: now,
	}
}

// Store returns the session's message store.
func (s *Session) Store() *MessageStore {
	return s.store
}

// ID returns the opaque session identifier, generating and persisting it on
// first access. It is never regenerated while the storage entry exists.
func (s *Session) ID() string {
	s.mu.RLock()
	if s.sessionID != "" {
		id := s.sessionID
		s.mu.RUnlock()
		return id
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return s.sessionID
	}
	if s.local != nil {
		if raw, ok, err := s.local.Get(SessionIDKey); err == nil && ok && len(raw) > 0 {
			s.sessionID = string(raw)
			return s.sessionID
		}
	}
	s.sessionID = uuid.NewString()
	if s.local != nil {
		if err := s.local.Set(SessionIDKey, []byte(s.sessionID)); err != nil {
			s.logger.Warn("failed to persist session id", "err", err)
		}
	}
	return s.sessionID
}

// SetFallback stores the fallback playbook message in the session scope.
// It survives a controller remount but not a new process.
func (s *Session) SetFallback(msg Message) {
	if s.scoped == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal fallback", "err", err)
		return
	}
	if err := s.scoped.Set(FallbackKey, data); err != nil {
		s.logger.Warn("failed to persist fallback", "err", err)
	}
}

// Fallback returns the stored fallback message, if present.
func (s *Session) Fallback() (Message, bool) {
	if s.scoped == nil {
		return Message{}, false
	}
	raw, ok, err := s.scoped.Get(FallbackKey)
	if err != nil || !ok {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("corrupt fallback entry, dropping", "err", err)
		_ = s.scoped.Delete(FallbackKey)
		return Message{}, false
	}
	return msg, true
}

// ClearFallback removes the session-scoped fallback entry.
func (s *Session) ClearFallback() {
	if s.scoped == nil {
		return
	}
	if err := s.scoped.Delete(FallbackKey); err != nil {
		s.logger.Warn("failed to clear fallback", "err", err)
	}
}

// LinkTelegram attaches a Telegram profile to the session.
func (s *Session) LinkTelegram(p TelegramProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telegram = &p
}

// UnlinkTelegram removes the Telegram profile link.
func (s *Session) UnlinkTelegram() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telegram = nil
}

// Telegram returns the linked profile, or nil.
func (s *Session) Telegram() *TelegramProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.telegram == nil {
		return nil
	}
	p := *s.telegram
	return &p
}

// Touch records activity for idle pruning.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// LastActiveAt returns the last activity timestamp.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// ---------- Manager ----------

// ScopeFactory builds the storage scopes for a profile: the durable local
// store and the process-lifetime session scope.
type ScopeFactory func(profileID string) (local KV, scoped KV, err error)

// SessionManager keeps active sessions per profile with idle pruning and an
// optional cap on concurrently held sessions.
type SessionManager struct {
	sessions    map[string]*Session
	scopes      ScopeFactory
	ttl         time.Duration
	maxSessions int
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewSessionManager creates a manager over the given scope factory.
func NewSessionManager(scopes ScopeFactory, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		scopes:   scopes,
		ttl:      DefaultSessionTTL,
		logger:   logger.With("component", "sessions"),
	}
}

// SetTTL overrides the idle TTL used by Prune.
func (m *SessionManager) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
}

// SetMaxSessions caps how many sessions the manager holds at once. Zero or
// negative disables the cap.
func (m *SessionManager) SetMaxSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = n
}

// GetOrCreate returns the session for a profile, creating it on first use.
func (m *SessionManager) GetOrCreate(profileID string) (*Session, error) {
	m.mu.RLock()
	if s, ok := m.sessions[profileID]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if s, ok := m.sessions[profileID]; ok {
		return s, nil
	}

	local, scoped, err := m.scopes(profileID)
	if err != nil {
		return nil, err
	}
	s := NewSession(profileID, local, scoped, m.logger)
	m.sessions[profileID] = s
	m.evictLocked()
	m.logger.Info("session created", "profile", profileID)
	return s, nil
}

// evictLocked drops the least recently active sessions over the cap. The
// on-disk mirrors stay; only the in-memory session context is released.
// Callers must hold the write lock.
func (m *SessionManager) evictLocked() {
	if m.maxSessions <= 0 || len(m.sessions) <= m.maxSessions {
		return
	}

	type pair struct {
		id   string
		time time.Time
	}
	list := make([]pair, 0, len(m.sessions))
	for id, s := range m.sessions {
		list = append(list, pair{id: id, time: s.LastActiveAt()})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].time.Before(list[j].time)
	})

	excess := len(list) - m.maxSessions
	for i := 0; i < excess; i++ {
		delete(m.sessions, list[i].id)
		m.logger.Info("session evicted", "profile", list[i].id)
	}
}

// Get returns the session for a profile, or nil.
func (m *SessionManager) Get(profileID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[profileID]
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete removes a profile's session from the manager.
func (m *SessionManager) Delete(profileID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[profileID]; ok {
		delete(m.sessions, profileID)
		m.logger.Info("session deleted", "profile", profileID)
		return true
	}
	return false
}

// List returns metadata for all active sessions.
func (m *SessionManager) List() []SessionMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionMeta, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionMeta{
			ProfileID:    s.ProfileID,
			MessageCount: s.store.Len(),
			Telegram:     s.Telegram() != nil,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt(),
		})
	}
	return out
}

// SessionMeta is read-only session metadata for listings.
type SessionMeta struct {
	ProfileID    string    `json:"profile_id"`
	MessageCount int       `json:"message_count"`
	Telegram     bool      `json:"telegram"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Prune removes sessions idle longer than the TTL. Returns the count.
func (m *SessionManager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.ttl)
	pruned := 0
	for id, s := range m.sessions {
		if s.LastActiveAt().Before(cutoff) {
			delete(m.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		m.logger.Info("idle sessions pruned", "pruned", pruned, "remaining", len(m.sessions))
	}
	return pruned
}

// StartPruner runs Prune on a ticker until the context is cancelled.
func (m *SessionManager) StartPruner(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.ttl / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}
