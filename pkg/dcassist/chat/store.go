// store.go implements the bounded, ordered conversation history with a
// local-store mirror. The store keeps at most MaxStoredMessages entries;
// older entries are dropped silently on append.
package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// MaxStoredMessages is the hard cap on mirrored history entries.
const MaxStoredMessages = 50

// KV is the minimal key-value contract the store persists through.
// Backends live in the persist package (file store, in-memory session scope).
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// HistoryPersister is the optional append-only journal for full history
// (JSONL or SQLite backend). Unlike the KV mirror it is never truncated
// to the store cap.
type HistoryPersister interface {
	SaveMessage(profileID, sessionID string, msg Message) error
	LoadRecent(profileID string, limit int) ([]Message, error)
	DeleteProfile(profileID string) error
	Close() error
}

// MessageStore maintains the bounded conversation history for one profile
// and mirrors it to the local store under HistoryKey.
type MessageStore struct {
	mu       sync.RWMutex
	messages []Message
	max      int
	kv       KV
	logger   *slog.Logger

	// journal is optional; errors are logged, never propagated.
	journal   HistoryPersister
	profileID string
	sessionID string
}

// NewMessageStore creates a store backed by the given KV and loads any
// mirrored history. A corrupt mirror is logged, deleted, and the store
// starts empty; no error reaches the caller.
func NewMessageStore(kv KV, logger *slog.Logger) *MessageStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MessageStore{
		max:    MaxStoredMessages,
		kv:     kv,
		logger: logger.With("component", "store"),
	}
	s.load()
	return s
}

// SetJournal attaches an append-only history journal. The profile and
// session IDs tag journal rows; they are not used by the mirror.
func (s *MessageStore) SetJournal(j HistoryPersister, profileID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
	s.profileID = profileID
	s.sessionID = sessionID
}

func (s *MessageStore) load() {
	if s.kv == nil {
		return
	}
	raw, ok, err := s.kv.Get(HistoryKey)
	if err != nil {
		s.logger.Warn("failed to read history mirror", "err", err)
		return
	}
	if !ok {
		return
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		// Corrupt mirror: drop it and start empty rather than failing.
		s.logger.Warn("corrupt history mirror, resetting", "err", err)
		if delErr := s.kv.Delete(HistoryKey); delErr != nil {
			s.logger.Warn("failed to delete corrupt mirror", "err", delErr)
		}
		return
	}
	if len(msgs) > s.max {
		msgs = msgs[len(msgs)-s.max:]
	}
	s.messages = msgs
}

// Append adds messages to the history, trims to the cap (oldest dropped
// first), and mirrors the result to the local store.
func (s *MessageStore) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	if s.max > 0 && len(s.messages) > s.max {
		s.messages = s.messages[len(s.messages)-s.max:]
	}
	journal := s.journal
	profileID, sessionID := s.profileID, s.sessionID
	s.mirrorLocked()
	s.mu.Unlock()

	if journal != nil {
		for _, m := range msgs {
			// Streaming placeholders are journaled on FinalizeLast instead.
			if m.Role == RoleAssistant && m.Content == "" {
				continue
			}
			if err := journal.SaveMessage(profileID, sessionID, m); err != nil {
				s.logger.Warn("failed to journal message", "err", err)
			}
		}
	}
}

// ReplaceLast overwrites the content of the final entry if and only if that
// entry has the assistant role; otherwise it is a no-op. Used while tokens
// stream in, so it deliberately skips the mirror write — FinalizeLast
// persists the settled content.
func (s *MessageStore) ReplaceLast(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return false
	}
	last := &s.messages[len(s.messages)-1]
	if last.Role != RoleAssistant {
		return false
	}
	last.Content = content
	return true
}

// FinalizeLast settles the streaming placeholder: replaces the last
// assistant entry's content and mirrors the history. Returns false (and
// writes nothing) under the same conditions ReplaceLast would no-op.
func (s *MessageStore) FinalizeLast(content string) bool {
	s.mu.Lock()
	if len(s.messages) == 0 {
		s.mu.Unlock()
		return false
	}
	last := &s.messages[len(s.messages)-1]
	if last.Role != RoleAssistant {
		s.mu.Unlock()
		return false
	}
	last.Content = content
	settled := *last
	journal := s.journal
	profileID, sessionID := s.profileID, s.sessionID
	s.mirrorLocked()
	s.mu.Unlock()

	if journal != nil {
		if err := journal.SaveMessage(profileID, sessionID, settled); err != nil {
			s.logger.Warn("failed to journal settled message", "err", err)
		}
	}
	return true
}

// DropLast removes the last n entries (rollback of an optimistic append)
// and mirrors the result.
func (s *MessageStore) DropLast(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.messages) {
		n = len(s.messages)
	}
	s.messages = s.messages[:len(s.messages)-n]
	s.mirrorLocked()
}

// Replace swaps the full history for the given messages (remote mirror
// sync), applying the cap, and persists.
func (s *MessageStore) Replace(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msgs) > s.max {
		msgs = msgs[len(msgs)-s.max:]
	}
	s.messages = make([]Message, len(msgs))
	copy(s.messages, msgs)
	s.mirrorLocked()
}

// Reset clears the history and removes the local-store mirror. The remote
// session's stored history is not touched.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	if s.kv != nil {
		if err := s.kv.Delete(HistoryKey); err != nil {
			s.logger.Warn("failed to delete history mirror", "err", err)
		}
	}
}

// Messages returns a copy of the current history.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Recent returns a copy of the last max entries.
func (s *MessageStore) Recent(max int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if max <= 0 || max > len(s.messages) {
		max = len(s.messages)
	}
	out := make([]Message, max)
	copy(out, s.messages[len(s.messages)-max:])
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// LastUserMessage returns the most recent user entry's content, if any.
func (s *MessageStore) LastUserMessage() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleUser {
			return s.messages[i].Content, true
		}
	}
	return "", false
}

// mirrorLocked writes the history snapshot under HistoryKey. Callers hold mu.
func (s *MessageStore) mirrorLocked() {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(s.messages)
	if err != nil {
		s.logger.Warn("failed to marshal history mirror", "err", err)
		return
	}
	if err := s.kv.Set(HistoryKey, data); err != nil {
		s.logger.Warn("failed to write history mirror", "err", err)
	}
}
