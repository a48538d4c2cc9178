// Package assist – vault.go provides encrypted credential storage using
// AES-256-GCM with Argon2id key derivation. Secrets live in a local file
// (.dcassist.vault) that is unreadable without the master password; the
// password itself is never stored, only a derived key held in memory while
// unlocked.
package assist

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

const (
	// VaultFile is the default vault file name.
	VaultFile = ".dcassist.vault"

	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	// saltLen is the length of the random Argon2 salt.
	saltLen = 16

	// verifyEntry is the internal entry used to detect a wrong password.
	verifyEntry = "__verify__"
)

// Vault secret names used by the assistant.
const (
	VaultProxyKey      = "DCASSIST_API_KEY"
	VaultTelegramToken = "DCASSIST_TELEGRAM_TOKEN"
	VaultGatewayToken  = "DCASSIST_GATEWAY_TOKEN"
)

// vaultEntry holds one encrypted secret.
type vaultEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// vaultFile is the on-disk format.
type vaultFile struct {
	Version int                   `json:"version"`
	Salt    string                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

// Vault provides encrypted secret storage backed by a local file.
type Vault struct {
	path string

	mu   sync.RWMutex
	data *vaultFile
	key  []byte // derived AES key, only set while unlocked
}

// NewVault creates a vault instance pointing at the given file. The vault
// is not yet usable; call Unlock or Create first.
func NewVault(path string) *Vault {
	return &Vault{path: path}
}

// Exists reports whether the vault file exists on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Path returns the vault file path.
func (v *Vault) Path() string {
	return v.path
}

// IsUnlocked reports whether the vault has been unlocked.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Create initializes a new vault with the given master password. Fails if
// the file already exists.
func (v *Vault) Create(password string) error {
	if v.Exists() {
		return fmt.Errorf("vault already exists at %s", v.path)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.key = deriveKey(password, salt)
	v.data = &vaultFile{
		Version: 1,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Entries: make(map[string]vaultEntry),
	}

	verify, err := sealEntry(v.key, []byte("dcassist-vault-ok"))
	if err != nil {
		return fmt.Errorf("sealing verification entry: %w", err)
	}
	v.data.Entries[verifyEntry] = verify

	return v.saveLocked()
}

// Unlock loads the vault and derives the key from the password. A wrong
// password fails on the verification entry.
func (v *Vault) Unlock(password string) error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("reading vault: %w", err)
	}

	var data vaultFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing vault: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return fmt.Errorf("decoding salt: %w", err)
	}

	key := deriveKey(password, salt)
	if verify, ok := data.Entries[verifyEntry]; ok {
		if _, err := openEntry(key, verify); err != nil {
			return fmt.Errorf("wrong password")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.data = &data
	return nil
}

// Lock zeroes and discards the derived key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}

// Set encrypts and stores a secret. The vault must be unlocked.
func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}

	entry, err := sealEntry(v.key, []byte(value))
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", name, err)
	}
	v.data.Entries[name] = entry

	if _, ok := v.data.Entries[verifyEntry]; !ok {
		ve, _ := sealEntry(v.key, []byte("dcassist-vault-ok"))
		v.data.Entries[verifyEntry] = ve
	}

	return v.saveLocked()
}

// Get decrypts a secret. Returns empty string if the entry does not exist.
// The vault must be unlocked.
func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil {
		return "", fmt.Errorf("vault is locked")
	}

	entry, ok := v.data.Entries[name]
	if !ok {
		return "", nil
	}

	plaintext, err := openEntry(v.key, entry)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", name, err)
	}
	return string(plaintext), nil
}

// Has reports whether a secret exists. False if the vault is locked.
func (v *Vault) Has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil || v.data == nil {
		return false
	}
	_, ok := v.data.Entries[name]
	return ok
}

// Delete removes a secret. The vault must be unlocked.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}

	delete(v.data.Entries, name)
	return v.saveLocked()
}

// List returns the names of stored secrets, excluding internal entries.
// Empty if the vault is locked.
func (v *Vault) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil || v.data == nil {
		return nil
	}

	var keys []string
	for k := range v.data.Entries {
		if k == verifyEntry {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// InjectEnv sets every vault secret as a process environment variable, so
// ${DCASSIST_*} references in config.yaml resolve from the vault. The .env
// file then only needs to hold the vault password.
func (v *Vault) InjectEnv() error {
	if !v.IsUnlocked() {
		return fmt.Errorf("vault is locked")
	}

	for _, key := range v.List() {
		val, err := v.Get(key)
		if err != nil || val == "" {
			continue
		}
		os.Setenv(key, val)
	}
	return nil
}

// ChangePassword re-encrypts all entries under a new master password.
// The vault must be unlocked.
func (v *Vault) ChangePassword(newPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}

	decrypted := make(map[string][]byte, len(v.data.Entries))
	for name, entry := range v.data.Entries {
		plaintext, err := openEntry(v.key, entry)
		if err != nil {
			return fmt.Errorf("decrypting %s: %w", name, err)
		}
		decrypted[name] = plaintext
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	newKey := deriveKey(newPassword, salt)

	newEntries := make(map[string]vaultEntry, len(decrypted))
	for name, plaintext := range decrypted {
		entry, err := sealEntry(newKey, plaintext)
		if err != nil {
			return fmt.Errorf("re-encrypting %s: %w", name, err)
		}
		newEntries[name] = entry
	}

	for i := range v.key {
		v.key[i] = 0
	}
	v.key = newKey
	v.data.Salt = base64.StdEncoding.EncodeToString(salt)
	v.data.Entries = newEntries

	return v.saveLocked()
}

// ---------- Internal ----------

// deriveKey uses Argon2id to derive a 32-byte AES key.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// sealEntry encrypts plaintext with AES-256-GCM under a random nonce.
func sealEntry(key, plaintext []byte) (vaultEntry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return vaultEntry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return vaultEntry{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultEntry{}, err
	}

	return vaultEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

// openEntry decrypts a vaultEntry.
func openEntry(key []byte, entry vaultEntry) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password?)")
	}
	return plaintext, nil
}

// saveLocked writes the vault to disk with owner-only permissions.
// Callers hold v.mu.
func (v *Vault) saveLocked() error {
	data, err := json.MarshalIndent(v.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault: %w", err)
	}
	return nil
}

// ReadPassword reads a password from the terminal without echo, falling
// back to plain stdin for piped input.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}
	fmt.Println()

	s := string(password)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s, nil
}
