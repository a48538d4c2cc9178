package chat

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testScopes(t *testing.T) ScopeFactory {
	t.Helper()
	return func(profileID string) (KV, KV, error) {
		if profileID == "" {
			return nil, nil, errors.New("empty profile id")
		}
		return newFakeKV(), newFakeKV(), nil
	}
}

func TestSessionIDStable(t *testing.T) {
	t.Parallel()
	local := newFakeKV()
	s := NewSession("trader-1", local, newFakeKV(), nil)

	id := s.ID()
	if id == "" {
		t.Fatal("ID() returned empty")
	}
	if got := s.ID(); got != id {
		t.Errorf("second ID() = %q, want %q", got, id)
	}

	// A new session over the same local store resumes the same ID.
	resumed := NewSession("trader-1", local, newFakeKV(), nil)
	if got := resumed.ID(); got != id {
		t.Errorf("resumed ID() = %q, want %q", got, id)
	}
}

func TestSessionIDPersistedUnderContractKey(t *testing.T) {
	t.Parallel()
	local := newFakeKV()
	s := NewSession("trader-1", local, newFakeKV(), nil)
	id := s.ID()

	raw, ok, err := local.Get(SessionIDKey)
	if err != nil || !ok {
		t.Fatalf("session id not persisted: ok=%v err=%v", ok, err)
	}
	if string(raw) != id {
		t.Errorf("persisted id = %q, want %q", raw, id)
	}
}

func TestSessionFallback(t *testing.T) {
	t.Parallel()
	local := newFakeKV()
	scoped := newFakeKV()
	s := NewSession("trader-1", local, scoped, nil)

	if _, ok := s.Fallback(); ok {
		t.Error("fresh session reported a fallback")
	}

	s.SetFallback(AssistantMessage("offline playbook"))

	fb, ok := s.Fallback()
	if !ok {
		t.Fatal("Fallback() not found after SetFallback")
	}
	if fb.Role != RoleAssistant || fb.Content != "offline playbook" {
		t.Errorf("Fallback() = %+v, want assistant playbook", fb)
	}

	// The fallback lives in the session scope, never the durable store.
	if _, ok, _ := local.Get(FallbackKey); ok {
		t.Error("fallback leaked into the durable store")
	}
	if _, ok, _ := scoped.Get(FallbackKey); !ok {
		t.Error("fallback missing from the session scope")
	}

	s.ClearFallback()
	if _, ok := s.Fallback(); ok {
		t.Error("Fallback() still set after ClearFallback")
	}
}

func TestSessionFallbackCorruptEntry(t *testing.T) {
	t.Parallel()
	scoped := newFakeKV()
	s := NewSession("trader-1", newFakeKV(), scoped, nil)

	if err := scoped.Set(FallbackKey, []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Fallback(); ok {
		t.Error("corrupt fallback entry was surfaced")
	}
	if _, ok, _ := scoped.Get(FallbackKey); ok {
		t.Error("corrupt fallback entry was not dropped")
	}
}

func TestSessionTelegramLink(t *testing.T) {
	t.Parallel()
	s := NewSession("trader-1", newFakeKV(), newFakeKV(), nil)

	if s.Telegram() != nil {
		t.Error("fresh session reported a telegram link")
	}

	s.LinkTelegram(TelegramProfile{ChatID: 42, Username: "trader"})
	got := s.Telegram()
	if got == nil || got.ChatID != 42 || got.Username != "trader" {
		t.Fatalf("Telegram() = %+v, want linked profile", got)
	}

	// The returned profile is a copy.
	got.Username = "mutated"
	if s.Telegram().Username != "trader" {
		t.Error("mutating the returned profile changed the session")
	}

	s.UnlinkTelegram()
	if s.Telegram() != nil {
		t.Error("Telegram() still set after unlink")
	}
}

func TestSessionManagerGetOrCreate(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(testScopes(t), nil)

	a, err := m.GetOrCreate("trader-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b, err := m.GetOrCreate("trader-1")
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if a != b {
		t.Error("GetOrCreate returned a new session for the same profile")
	}
	if got := m.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	if _, err := m.GetOrCreate(""); err == nil {
		t.Error("GetOrCreate with invalid profile succeeded")
	}
}

func TestSessionManagerDelete(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(testScopes(t), nil)
	if _, err := m.GetOrCreate("trader-1"); err != nil {
		t.Fatal(err)
	}

	if !m.Delete("trader-1") {
		t.Error("Delete() = false for existing profile")
	}
	if m.Delete("trader-1") {
		t.Error("Delete() = true for missing profile")
	}
	if m.Get("trader-1") != nil {
		t.Error("Get() returned a deleted session")
	}
}

func TestSessionManagerPrune(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(testScopes(t), nil)
	m.SetTTL(time.Hour)

	stale, err := m.GetOrCreate("stale")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCreate("active"); err != nil {
		t.Fatal(err)
	}

	stale.mu.Lock()
	stale.lastActiveAt = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	if got := m.Prune(); got != 1 {
		t.Errorf("Prune() = %d, want 1", got)
	}
	if m.Get("stale") != nil {
		t.Error("stale session survived pruning")
	}
	if m.Get("active") == nil {
		t.Error("active session was pruned")
	}
}

func TestSessionManagerMaxSessions(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(testScopes(t), nil)
	m.SetMaxSessions(2)

	// Stagger the first two so the third create evicts deterministically.
	for i, age := range []time.Duration{2 * time.Hour, time.Hour} {
		s, err := m.GetOrCreate(fmt.Sprintf("trader-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		s.mu.Lock()
		s.lastActiveAt = time.Now().Add(-age)
		s.mu.Unlock()
	}
	if _, err := m.GetOrCreate("trader-2"); err != nil {
		t.Fatal(err)
	}

	if got := m.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	if m.Get("trader-0") != nil {
		t.Error("least recently active session survived the cap")
	}
	if m.Get("trader-1") == nil || m.Get("trader-2") == nil {
		t.Error("recently active sessions were evicted")
	}
}

func TestSessionManagerMaxSessionsDisabled(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(testScopes(t), nil)
	m.SetMaxSessions(0)

	for i := 0; i < 5; i++ {
		if _, err := m.GetOrCreate(fmt.Sprintf("trader-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.Count(); got != 5 {
		t.Errorf("Count() = %d, want 5 with the cap disabled", got)
	}
}

func TestSessionManagerList(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(testScopes(t), nil)
	s, err := m.GetOrCreate("trader-1")
	if err != nil {
		t.Fatal(err)
	}
	s.Store().Append(UserMessage("hi"), AssistantMessage("hello"))
	s.LinkTelegram(TelegramProfile{ChatID: 7, Username: "trader"})

	metas := m.List()
	if len(metas) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(metas))
	}
	meta := metas[0]
	if meta.ProfileID != "trader-1" {
		t.Errorf("ProfileID = %q, want %q", meta.ProfileID, "trader-1")
	}
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", meta.MessageCount)
	}
	if !meta.Telegram {
		t.Error("Telegram = false, want true")
	}
}
