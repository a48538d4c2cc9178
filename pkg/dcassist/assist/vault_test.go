package assist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestVault(t *testing.T, password string) *Vault {
	t.Helper()
	v := NewVault(filepath.Join(t.TempDir(), ".dcassist.vault"))
	if err := v.Create(password); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return v
}

func TestVaultRoundtrip(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "master-pass")

	if !v.Exists() {
		t.Fatal("Exists() = false after Create()")
	}
	if !v.IsUnlocked() {
		t.Fatal("IsUnlocked() = false after Create()")
	}

	if err := v.Set(VaultProxyKey, "sk-secret-123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := v.Get(VaultProxyKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "sk-secret-123" {
		t.Errorf("Get() = %q, want the stored secret", got)
	}
	if !v.Has(VaultProxyKey) {
		t.Error("Has() = false for a stored secret")
	}

	// The verification entry never shows up in listings.
	list := v.List()
	if len(list) != 1 || list[0] != VaultProxyKey {
		t.Errorf("List() = %v, want [%s]", list, VaultProxyKey)
	}

	// A fresh instance over the same file unlocks with the password.
	reopened := NewVault(v.Path())
	if err := reopened.Unlock("master-pass"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	got, err = reopened.Get(VaultProxyKey)
	if err != nil || got != "sk-secret-123" {
		t.Errorf("Get() after reopen = (%q, %v), want the stored secret", got, err)
	}
}

func TestVaultWrongPassword(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "right-pass")
	if err := v.Set(VaultProxyKey, "sk-secret"); err != nil {
		t.Fatal(err)
	}

	intruder := NewVault(v.Path())
	err := intruder.Unlock("wrong-pass")
	if err == nil {
		t.Fatal("Unlock() with the wrong password succeeded")
	}
	if !strings.Contains(err.Error(), "password") {
		t.Errorf("Unlock() error = %q, want it to mention the password", err)
	}
	if intruder.IsUnlocked() {
		t.Error("vault unlocked despite the failed attempt")
	}
}

func TestVaultCreateRefusesExisting(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "pass")
	if err := v.Create("other-pass"); err == nil {
		t.Error("Create() over an existing vault succeeded")
	}
}

func TestVaultLockedOperations(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "pass")
	if err := v.Set(VaultProxyKey, "sk-secret"); err != nil {
		t.Fatal(err)
	}

	v.Lock()
	if v.IsUnlocked() {
		t.Fatal("IsUnlocked() = true after Lock()")
	}

	if _, err := v.Get(VaultProxyKey); err == nil {
		t.Error("Get() on a locked vault succeeded")
	}
	if err := v.Set("x", "y"); err == nil {
		t.Error("Set() on a locked vault succeeded")
	}
	if err := v.Delete(VaultProxyKey); err == nil {
		t.Error("Delete() on a locked vault succeeded")
	}
	if v.Has(VaultProxyKey) {
		t.Error("Has() = true on a locked vault")
	}
	if got := v.List(); got != nil {
		t.Errorf("List() on a locked vault = %v, want nil", got)
	}
	if err := v.InjectEnv(); err == nil {
		t.Error("InjectEnv() on a locked vault succeeded")
	}
}

func TestVaultGetMissingEntry(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "pass")

	got, err := v.Get("never-stored")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "" {
		t.Errorf("Get() = %q, want empty for a missing entry", got)
	}
}

func TestVaultDelete(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "pass")

	if err := v.Set(VaultTelegramToken, "123:abc"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete(VaultTelegramToken); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if v.Has(VaultTelegramToken) {
		t.Error("Has() = true after Delete()")
	}
	if got, err := v.Get(VaultTelegramToken); err != nil || got != "" {
		t.Errorf("Get() after Delete() = (%q, %v), want empty", got, err)
	}
}

func TestVaultChangePassword(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "old-pass")
	if err := v.Set(VaultProxyKey, "sk-keep-me"); err != nil {
		t.Fatal(err)
	}

	if err := v.ChangePassword("new-pass"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	// The old password no longer opens the file; the new one does, with
	// every entry intact.
	if err := NewVault(v.Path()).Unlock("old-pass"); err == nil {
		t.Error("old password still unlocks the vault")
	}

	reopened := NewVault(v.Path())
	if err := reopened.Unlock("new-pass"); err != nil {
		t.Fatalf("Unlock() with the new password error = %v", err)
	}
	got, err := reopened.Get(VaultProxyKey)
	if err != nil || got != "sk-keep-me" {
		t.Errorf("Get() after password change = (%q, %v), want the original secret", got, err)
	}
}

func TestVaultInjectEnv(t *testing.T) {
	const name = "DCASSIST_TEST_INJECTED"
	v := newTestVault(t, "pass")
	if err := v.Set(name, "injected-value"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv(name) })

	if err := v.InjectEnv(); err != nil {
		t.Fatalf("InjectEnv() error = %v", err)
	}
	if got := os.Getenv(name); got != "injected-value" {
		t.Errorf("env %s = %q, want the vault value", name, got)
	}
}

func TestVaultFilePermissions(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "pass")

	info, err := os.Stat(v.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("vault file permissions = %04o, want 0600", perm)
	}
}

func TestVaultFileDoesNotLeakPlaintext(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, "pass")
	if err := v.Set(VaultProxyKey, "sk-super-secret-value"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-super-secret-value") {
		t.Error("vault file contains the secret in plaintext")
	}
	if strings.Contains(string(raw), "pass") && strings.Contains(string(raw), `"password"`) {
		t.Error("vault file stores the master password")
	}
}
