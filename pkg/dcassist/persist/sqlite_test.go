package persist

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

func newTestSQLiteJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteJournalRoundtrip(t *testing.T) {
	t.Parallel()
	j := newTestSQLiteJournal(t)

	exchanges := []chat.Message{
		chat.UserMessage("hello"),
		chat.AssistantMessage("hi there"),
		chat.UserMessage("what is vip?"),
	}
	for _, msg := range exchanges {
		if err := j.SaveMessage("trader-1", "sess-1", msg); err != nil {
			t.Fatalf("SaveMessage(%q) error = %v", msg.Content, err)
		}
	}

	msgs, err := j.LoadRecent("trader-1", 0)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("LoadRecent() returned %d messages, want 3", len(msgs))
	}
	for i, want := range exchanges {
		if msgs[i].Role != want.Role || msgs[i].Content != want.Content {
			t.Errorf("message[%d] = %+v, want role %q content %q", i, msgs[i], want.Role, want.Content)
		}
	}
}

func TestSQLiteJournalLimitKeepsNewest(t *testing.T) {
	t.Parallel()
	j := newTestSQLiteJournal(t)

	for i := 0; i < 8; i++ {
		if err := j.SaveMessage("trader-1", "sess-1", chat.UserMessage(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := j.LoadRecent("trader-1", 3)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("LoadRecent(3) returned %d messages, want 3", len(msgs))
	}
	// Newest three, still oldest-first.
	for i, want := range []string{"m5", "m6", "m7"} {
		if msgs[i].Content != want {
			t.Errorf("message[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestSQLiteJournalMissingProfile(t *testing.T) {
	t.Parallel()
	j := newTestSQLiteJournal(t)

	msgs, err := j.LoadRecent("never-seen", 0)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("LoadRecent() = %v, want empty for a missing profile", msgs)
	}
}

func TestSQLiteJournalProfilesIsolated(t *testing.T) {
	t.Parallel()
	j := newTestSQLiteJournal(t)

	if err := j.SaveMessage("alice", "sess-a", chat.UserMessage("from alice")); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveMessage("bob", "sess-b", chat.UserMessage("from bob")); err != nil {
		t.Fatal(err)
	}

	profiles, err := j.Profiles()
	if err != nil {
		t.Fatalf("Profiles() error = %v", err)
	}
	if len(profiles) != 2 || profiles[0] != "alice" || profiles[1] != "bob" {
		t.Fatalf("Profiles() = %v, want [alice bob]", profiles)
	}

	msgs, err := j.LoadRecent("alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "from alice" {
		t.Errorf("alice history = %+v, want only her message", msgs)
	}
}

func TestSQLiteJournalDeleteProfile(t *testing.T) {
	t.Parallel()
	j := newTestSQLiteJournal(t)

	if err := j.SaveMessage("alice", "sess-a", chat.UserMessage("hi")); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveMessage("bob", "sess-b", chat.UserMessage("hello")); err != nil {
		t.Fatal(err)
	}

	if err := j.DeleteProfile("alice"); err != nil {
		t.Fatalf("DeleteProfile() error = %v", err)
	}

	msgs, err := j.LoadRecent("alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("alice history after delete = %v, want empty", msgs)
	}

	profiles, err := j.Profiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0] != "bob" {
		t.Errorf("Profiles() = %v, want [bob]", profiles)
	}

	if err := j.Vacuum(); err != nil {
		t.Errorf("Vacuum() error = %v", err)
	}
}

func TestSQLiteJournalSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewSQLiteJournal(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.SaveMessage("trader-1", "sess-1", chat.UserMessage("durable")); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteJournal(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	msgs, err := reopened.LoadRecent("trader-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "durable" {
		t.Errorf("history after reopen = %+v, want the saved message", msgs)
	}
}

func TestSQLiteJournalRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := NewSQLiteJournal("", nil); err == nil {
		t.Error("NewSQLiteJournal(\"\") did not fail")
	}
}
