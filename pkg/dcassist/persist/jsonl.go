// jsonl.go implements the append-only history journal as one JSONL file
// per profile.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

const defaultJournalDir = "./data/history"

// journalLine is the JSON line format for one message.
type journalLine struct {
	TS        string `json:"ts"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// JSONLJournal persists full message history as JSONL files, one per
// profile. Implements chat.HistoryPersister.
type JSONLJournal struct {
	dir    string
	logger *slog.Logger
	fileMu map[string]*sync.Mutex // per-profile file lock
	mapMu  sync.Mutex
}

// NewJSONLJournal creates the journal directory (0700) if needed.
func NewJSONLJournal(dir string, logger *slog.Logger) (*JSONLJournal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir %q: %w", dir, err)
	}
	return &JSONLJournal{
		dir:    dir,
		logger: logger.With("component", "journal"),
		fileMu: make(map[string]*sync.Mutex),
	}, nil
}

func (j *JSONLJournal) fileMuFor(profileID string) *sync.Mutex {
	key := sanitizeKey(profileID)
	j.mapMu.Lock()
	defer j.mapMu.Unlock()
	if m, ok := j.fileMu[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	j.fileMu[key] = m
	return m
}

func (j *JSONLJournal) path(profileID string) string {
	return filepath.Join(j.dir, sanitizeKey(profileID)+".jsonl")
}

// SaveMessage appends one JSONL line for the message.
func (j *JSONLJournal) SaveMessage(profileID, sessionID string, msg chat.Message) error {
	mu := j.fileMuFor(profileID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(j.path(profileID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			j.logger.Warn("failed to close journal", "profile", profileID, "err", closeErr)
		}
	}()

	line := journalLine{
		TS:        time.Now().UTC().Format(time.RFC3339),
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal journal line: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal line: %w", err)
	}
	return nil
}

// LoadRecent returns the last limit messages for a profile, oldest first.
// limit <= 0 loads everything.
func (j *JSONLJournal) LoadRecent(profileID string, limit int) ([]chat.Message, error) {
	mu := j.fileMuFor(profileID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(j.path(profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var msgs []chat.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line journalLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			j.logger.Warn("skipping malformed journal line", "profile", profileID, "err", err)
			continue
		}
		msgs = append(msgs, chat.Message{Role: chat.Role(line.Role), Content: line.Content})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// DeleteProfile removes a profile's journal file.
func (j *JSONLJournal) DeleteProfile(profileID string) error {
	mu := j.fileMuFor(profileID)
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(j.path(profileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete journal: %w", err)
	}
	return nil
}

// Rotate trims a profile's journal to the last maxLines lines, keeping the
// previous file as .bak. Used by the maintenance scheduler.
func (j *JSONLJournal) Rotate(profileID string, maxLines int) error {
	if maxLines <= 0 {
		return nil
	}
	mu := j.fileMuFor(profileID)
	mu.Lock()
	defer mu.Unlock()

	path := j.path(profileID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal: %w", err)
	}

	lines := splitLines(data)
	if len(lines) <= maxLines {
		return nil
	}

	if err := os.WriteFile(path+".bak", data, 0o600); err != nil {
		return fmt.Errorf("backup journal: %w", err)
	}

	kept := lines[len(lines)-maxLines:]
	out := make([]byte, 0, len(data))
	for _, l := range kept {
		out = append(out, l...)
		out = append(out, '\n')
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("rewrite journal: %w", err)
	}
	j.logger.Info("journal rotated", "profile", profileID, "kept", len(kept), "dropped", len(lines)-len(kept))
	return nil
}

// Profiles lists profile IDs that have a journal file.
func (j *JSONLJournal) Profiles() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("list journal dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".jsonl" {
			continue
		}
		out = append(out, name[:len(name)-len(".jsonl")])
	}
	return out, nil
}

// Close implements chat.HistoryPersister; the JSONL backend holds no
// long-lived handles.
func (j *JSONLJournal) Close() error { return nil }

// splitLines splits on '\n', dropping a trailing empty line.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
