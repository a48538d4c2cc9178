package persist

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store, dir
}

func TestFileStoreRoundtrip(t *testing.T) {
	t.Parallel()
	store, _ := newTestFileStore(t)

	if err := store.Set("chat-assistant-session-id", []byte("abc-123")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := store.Get("chat-assistant-session-id")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != "abc-123" {
		t.Errorf("Get() = %q, want %q", got, "abc-123")
	}

	// Overwrite replaces the value.
	if err := store.Set("chat-assistant-session-id", []byte("def-456")); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, _, _ = store.Get("chat-assistant-session-id")
	if string(got) != "def-456" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "def-456")
	}
}

func TestFileStoreMissingKey(t *testing.T) {
	t.Parallel()
	store, _ := newTestFileStore(t)

	got, ok, err := store.Get("never-set")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true for a missing key")
	}
	if got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
}

func TestFileStoreDelete(t *testing.T) {
	t.Parallel()
	store, _ := newTestFileStore(t)

	if err := store.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Error("key still present after Delete()")
	}

	// Deleting a missing key is not an error.
	if err := store.Delete("k"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestFileStoreSanitizesKeys(t *testing.T) {
	t.Parallel()
	store, dir := newTestFileStore(t)

	tests := []struct {
		key      string
		wantFile string
	}{
		{"plain", "plain"},
		{"with/slash", "with_slash"},
		{"with:colon", "with_colon"},
		{"../escape", "__escape"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := store.Set(tt.key, []byte("v")); err != nil {
				t.Fatalf("Set(%q) error = %v", tt.key, err)
			}
			if _, err := os.Stat(filepath.Join(dir, tt.wantFile)); err != nil {
				t.Errorf("expected file %q missing: %v", tt.wantFile, err)
			}
			// The original key still reads back.
			got, ok, err := store.Get(tt.key)
			if err != nil || !ok || string(got) != "v" {
				t.Errorf("Get(%q) = (%q, %v, %v), want (v, true, nil)", tt.key, got, ok, err)
			}
		})
	}

	// Nothing landed outside the store directory.
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape")); !os.IsNotExist(err) {
		t.Error("a key escaped the store directory")
	}
}

func TestFileStoreSetLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	store, dir := newTestFileStore(t)

	if err := store.Set("history", []byte(`[{"role":"user"}]`)); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file %q left behind after Set()", e.Name())
		}
	}
}

func TestFileStoreKeys(t *testing.T) {
	t.Parallel()
	store, dir := newTestFileStore(t)

	for _, k := range []string{"alpha", "beta", "gamma"} {
		if err := store.Set(k, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	// A stray temp file from an interrupted write is not a key.
	if err := os.WriteFile(filepath.Join(dir, "orphan.tmp"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	want := []string{"alpha", "beta", "gamma"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestFileStoreRequiresDir(t *testing.T) {
	t.Parallel()
	if _, err := NewFileStore("", nil); err == nil {
		t.Error("NewFileStore(\"\") did not fail")
	}
}

func TestMemStoreRoundtrip(t *testing.T) {
	t.Parallel()
	store := NewMemStore()

	if _, ok, err := store.Get("missing"); ok || err != nil {
		t.Errorf("Get(missing) = (_, %v, %v), want (false, nil)", ok, err)
	}

	if err := store.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.Get("k")
	if err != nil || !ok || string(got) != "v" {
		t.Errorf("Get(k) = (%q, %v, %v), want (v, true, nil)", got, ok, err)
	}

	if err := store.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Error("key still present after Delete()")
	}
	if got := store.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestMemStoreCopiesValues(t *testing.T) {
	t.Parallel()
	store := NewMemStore()

	in := []byte("original")
	if err := store.Set("k", in); err != nil {
		t.Fatal(err)
	}
	in[0] = 'X'

	got, _, _ := store.Get("k")
	if string(got) != "original" {
		t.Errorf("stored value mutated through the caller's slice: %q", got)
	}

	got[0] = 'Y'
	again, _, _ := store.Get("k")
	if string(again) != "original" {
		t.Errorf("stored value mutated through the returned slice: %q", again)
	}
}
