// Package assist – keyring.go provides credential storage via the operating
// system's native keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving secrets:
//  1. Encrypted vault (.dcassist.vault, requires master password)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. Environment variable (DCASSIST_API_KEY etc., including .env files)
//  4. config.yaml value (least secure, plaintext on disk)
package assist

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "dcassist"

	// keyringProxyKey is the keyring entry for the proxy API key.
	keyringProxyKey = "api_key"

	// keyringTelegramToken is the keyring entry for the Telegram bot token.
	keyringTelegramToken = "telegram_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, empty if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__dcassist_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets resolves the proxy API key and Telegram bot token using
// the priority chain vault → keyring → env/config, updating cfg in place.
// If a vault exists but is locked, it tries DCASSIST_VAULT_PASSWORD first
// and falls back to an interactive prompt when stdin is a terminal. The
// unlocked vault (or nil) is returned for reuse.
func ResolveSecrets(cfg *Config, logger *slog.Logger) *Vault {
	vault := NewVault(VaultFile)
	if vault.Exists() {
		if !vault.IsUnlocked() {
			if envPass := os.Getenv("DCASSIST_VAULT_PASSWORD"); envPass != "" {
				if err := vault.Unlock(envPass); err != nil {
					logger.Warn("failed to unlock vault with DCASSIST_VAULT_PASSWORD", "error", err)
				} else {
					logger.Info("vault unlocked via DCASSIST_VAULT_PASSWORD")
				}
			}
		}

		if !vault.IsUnlocked() {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				password, err := ReadPassword("Vault password: ")
				if err != nil {
					logger.Warn("failed to read vault password", "error", err)
				} else if err := vault.Unlock(password); err != nil {
					logger.Warn("failed to unlock vault", "error", err)
				}
			} else {
				logger.Info("vault exists but skipping (non-interactive, no DCASSIST_VAULT_PASSWORD), using env/config")
			}
		}

		if vault.IsUnlocked() {
			injectVaultSecrets(vault, cfg, logger)
			return vault
		}
	}

	if val := GetKeyring(keyringProxyKey); val != "" && (cfg.Proxy.APIKey == "" || IsEnvReference(cfg.Proxy.APIKey)) {
		cfg.Proxy.APIKey = val
		logger.Debug("proxy API key loaded from OS keyring")
	}
	if val := GetKeyring(keyringTelegramToken); val != "" && (cfg.Telegram.BotToken == "" || IsEnvReference(cfg.Telegram.BotToken)) {
		cfg.Telegram.BotToken = val
		logger.Debug("Telegram token loaded from OS keyring")
	}

	if cfg.Proxy.APIKey == "" || IsEnvReference(cfg.Proxy.APIKey) {
		logger.Warn("no proxy API key found. Set one with: dcassist config set-key or dcassist config vault-set")
	}
	return nil
}

// injectVaultSecrets sets every vault secret into the process environment
// (so ${DCASSIST_*} references resolve) and fills the known config fields.
func injectVaultSecrets(vault *Vault, cfg *Config, logger *slog.Logger) {
	if err := vault.InjectEnv(); err != nil {
		logger.Warn("failed to inject vault secrets", "error", err)
	}

	if val, err := vault.Get(VaultProxyKey); err == nil && val != "" {
		cfg.Proxy.APIKey = val
		logger.Debug("proxy API key loaded from encrypted vault")
	}
	if val, err := vault.Get(VaultTelegramToken); err == nil && val != "" {
		cfg.Telegram.BotToken = val
		logger.Debug("Telegram token loaded from encrypted vault")
	}
	if val, err := vault.Get(VaultGatewayToken); err == nil && val != "" {
		cfg.Gateway.AuthToken = val
		logger.Debug("gateway auth token loaded from encrypted vault")
	}

	if n := len(vault.List()); n > 0 {
		logger.Info("vault secrets injected into process environment", "count", n)
	}
}

// MigrateKeyToKeyring moves the proxy API key into the OS keyring.
func MigrateKeyToKeyring(apiKey string, logger *slog.Logger) error {
	if err := StoreKeyring(keyringProxyKey, apiKey); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("proxy API key stored in OS keyring",
		"service", keyringService,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
