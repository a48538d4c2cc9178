package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
)

// newSetupCmd creates the `dcassist setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml:
assistant name, chat proxy endpoint, secret storage, history journal, and
the HTTP gateway. Secrets go to an encrypted vault (AES-256-GCM) or the
OS keyring, never into the YAML.

Examples:
  dcassist setup`,
		RunE: runSetup,
	}
}

// storageMethod tracks where secrets were stored during setup.
type storageMethod int

const (
	storageNone    storageMethod = iota
	storageVault                 // encrypted vault (.dcassist.vault)
	storageKeyring               // OS keyring
	storageEnv                   // environment variables, user-managed
)

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := assist.DefaultConfig()

	var (
		apiKey      string
		botToken    string
		storePick   = "vault"
		journal     = cfg.Storage.Journal
		gatewayOn   = cfg.Gateway.Enabled
		protectedGW = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Chat proxy base URL").
				Description("The Dynamic Capital chat proxy the widget talks to.").
				Value(&cfg.Proxy.BaseURL).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
						return fmt.Errorf("must start with http:// or https://")
					}
					return nil
				}),
			huh.NewInput().
				Title("Proxy API key").
				Description("Leave empty to configure later.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Secret storage").
				Description("Where the API key and bot token are kept.").
				Options(
					huh.NewOption("Encrypted vault (recommended)", "vault"),
					huh.NewOption("OS keyring", "keyring"),
					huh.NewOption("Environment variables", "env"),
				).
				Value(&storePick),
			huh.NewSelect[string]().
				Title("History journal").
				Description("Server-side record of settled conversations.").
				Options(
					huh.NewOption("JSONL files", assist.JournalJSONL),
					huh.NewOption("SQLite", assist.JournalSQLite),
					huh.NewOption("None (device mirror only)", assist.JournalNone),
				).
				Value(&journal),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Optional. Enables VIP signal notifications and account linking.").
				EchoMode(huh.EchoModePassword).
				Value(&botToken),
			huh.NewConfirm().
				Title("Enable the HTTP gateway?").
				Description("The web widget needs it. Disable for CLI-only use.").
				Value(&gatewayOn),
			huh.NewConfirm().
				Title("Protect the gateway with a bearer token?").
				Value(&protectedGW),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg.Storage.Journal = journal
	cfg.Gateway.Enabled = gatewayOn
	cfg.Telegram.Enabled = botToken != ""

	gatewayToken := ""
	if gatewayOn && protectedGW {
		gatewayToken = newToken()
	}

	// Collect the secrets that actually need storing.
	secrets := map[string]string{}
	if apiKey != "" {
		secrets[assist.VaultProxyKey] = apiKey
	}
	if botToken != "" {
		secrets[assist.VaultTelegramToken] = botToken
	}
	if gatewayToken != "" {
		secrets[assist.VaultGatewayToken] = gatewayToken
	}

	keyStorage := storageNone
	if len(secrets) > 0 {
		switch storePick {
		case "vault":
			keyStorage = setupVault(secrets)
		case "keyring":
			keyStorage = setupKeyring(apiKey, botToken)
		case "env":
			keyStorage = storageEnv
		}
		if keyStorage == storageNone {
			fmt.Println("  [!] Could not store the secrets securely.")
			fmt.Println("  You can set them later with: dcassist config vault-init && dcassist config vault-set")
		}
	}

	// config.yaml only ever carries env references, never the real values.
	if apiKey != "" || keyStorage != storageNone {
		cfg.Proxy.APIKey = "${DCASSIST_API_KEY}"
	}
	if botToken != "" {
		cfg.Telegram.BotToken = "${DCASSIST_TELEGRAM_TOKEN}"
	}
	if gatewayToken != "" {
		cfg.Gateway.AuthToken = "${DCASSIST_GATEWAY_TOKEN}"
	}

	// ── Confirm and save ──
	target := "config.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := assist.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Name:      %s\n", cfg.Name)
	fmt.Printf("  Proxy:     %s\n", cfg.Proxy.BaseURL)
	switch keyStorage {
	case storageVault:
		fmt.Println("  Secrets:   **** (encrypted vault)")
	case storageKeyring:
		fmt.Println("  Secrets:   **** (OS keyring)")
	case storageEnv:
		fmt.Println("  Secrets:   environment variables (see below)")
	default:
		fmt.Println("  Secrets:   (not set, configure later)")
	}
	fmt.Printf("  Journal:   %s\n", cfg.Storage.Journal)
	fmt.Printf("  Telegram:  %v\n", cfg.Telegram.Enabled)
	fmt.Printf("  Gateway:   %v (%s)\n", cfg.Gateway.Enabled, cfg.Gateway.Address)
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()
	fmt.Println("config.yaml created (permissions: 600, no secrets inside).")

	if keyStorage == storageEnv {
		fmt.Println()
		fmt.Println("Export these before starting the service:")
		if apiKey != "" {
			fmt.Println("  export DCASSIST_API_KEY=<your proxy key>")
		}
		if botToken != "" {
			fmt.Println("  export DCASSIST_TELEGRAM_TOKEN=<your bot token>")
		}
	}
	if gatewayToken != "" && keyStorage != storageNone {
		fmt.Println()
		fmt.Println("Gateway bearer token (shown once, give it to the web embed):")
		fmt.Printf("  %s\n", gatewayToken)
		if keyStorage == storageEnv {
			fmt.Println("  export DCASSIST_GATEWAY_TOKEN=<the token above>")
		}
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: dcassist serve")
	if keyStorage == storageVault {
		fmt.Println("  2. Enter your vault password when prompted")
		fmt.Println("  3. Embed the widget against the gateway address")
	} else {
		fmt.Println("  2. Embed the widget against the gateway address")
	}
	fmt.Println()

	return nil
}

// setupVault creates (or reuses) the encrypted vault and stores the secrets
// in it. Returns the storage method that ended up being used.
func setupVault(secrets map[string]string) storageMethod {
	fmt.Println()
	fmt.Println("  Creating encrypted vault...")
	fmt.Println("  Choose a master password (minimum 8 characters).")
	fmt.Println("  This password is NEVER stored, only you know it.")
	fmt.Println()

	password, err := assist.ReadPassword("  Master password: ")
	if err != nil {
		fmt.Printf("  [!] Failed to read password: %v\n", err)
		return tryKeyringFallback(secrets)
	}
	if len(password) < 8 {
		fmt.Println("  [!] Password too short (minimum 8 characters).")
		return tryKeyringFallback(secrets)
	}

	confirm, err := assist.ReadPassword("  Confirm password: ")
	if err != nil || password != confirm {
		fmt.Println("  [!] Passwords don't match.")
		return tryKeyringFallback(secrets)
	}

	vault := assist.NewVault(assist.VaultFile)

	if vault.Exists() {
		if err := vault.Unlock(password); err != nil {
			fmt.Printf("  [!] A vault already exists and the password doesn't open it: %v\n", err)
			return tryKeyringFallback(secrets)
		}
	} else if err := vault.Create(password); err != nil {
		fmt.Printf("  [!] Vault creation failed: %v\n", err)
		return tryKeyringFallback(secrets)
	}

	for name, value := range secrets {
		if err := vault.Set(name, value); err != nil {
			fmt.Printf("  [!] Failed to store %s in vault: %v\n", name, err)
			vault.Lock()
			return tryKeyringFallback(secrets)
		}
	}

	vault.Lock()
	fmt.Println()
	fmt.Println("  Secrets encrypted and stored in the vault.")
	return storageVault
}

// setupKeyring stores the API key and bot token in the OS keyring.
func setupKeyring(apiKey, botToken string) storageMethod {
	if !assist.KeyringAvailable() {
		fmt.Println("  [!] OS keyring is not available on this system.")
		return storageNone
	}
	if apiKey != "" {
		if err := assist.StoreKeyring("api_key", apiKey); err != nil {
			fmt.Printf("  [!] Failed to store the API key in the keyring: %v\n", err)
			return storageNone
		}
	}
	if botToken != "" {
		if err := assist.StoreKeyring("telegram_token", botToken); err != nil {
			fmt.Printf("  [!] Failed to store the bot token in the keyring: %v\n", err)
			return storageNone
		}
	}
	fmt.Println("  Secrets stored in the OS keyring.")
	return storageKeyring
}

// tryKeyringFallback attempts keyring storage when vault creation fails.
func tryKeyringFallback(secrets map[string]string) storageMethod {
	if !assist.KeyringAvailable() {
		return storageNone
	}
	fmt.Println("  Trying OS keyring as fallback...")
	return setupKeyring(secrets[assist.VaultProxyKey], secrets[assist.VaultTelegramToken])
}

// newToken generates a random bearer token for the gateway.
func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
