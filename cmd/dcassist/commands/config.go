package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
)

// newConfigCmd creates the `dcassist config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the configuration",
		Long: `Inspect and manage the dcassist configuration and the encrypted
secret vault.

Examples:
  dcassist config show
  dcassist config set proxy.base_url https://api.dynamic.capital
  dcassist config vault-init
  dcassist config vault-set DCASSIST_API_KEY`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetCmd(),
		newConfigVaultInitCmd(),
		newConfigVaultSetCmd(),
		newConfigVaultListCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			redacted := *cfg
			redacted.Proxy.APIKey = redactSecret(cfg.Proxy.APIKey)
			redacted.Telegram.BotToken = redactSecret(cfg.Telegram.BotToken)
			redacted.Gateway.AuthToken = redactSecret(cfg.Gateway.AuthToken)

			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Printf("# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Printf("%s is valid.\n", path)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value and save the file",
		Long: `Set a configuration value by dotted key and save the file.

Supported keys:
  name, proxy.base_url, proxy.system_prompt, proxy.history_window,
  storage.dir, storage.journal, sessions.ttl_hours, gateway.address,
  scheduler.prune_spec, logging.level, logging.format`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			if err := applyConfigKey(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("refusing to save: %w", err)
			}
			if err := assist.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			fmt.Printf("%s = %s saved to %s\n", args[0], args[1], path)
			return nil
		},
	}
}

// applyConfigKey sets one dotted config key. Secrets are not settable here;
// they belong in the vault or environment.
func applyConfigKey(cfg *assist.Config, key, value string) error {
	switch key {
	case "name":
		cfg.Name = value
	case "proxy.base_url":
		cfg.Proxy.BaseURL = value
	case "proxy.system_prompt":
		cfg.Proxy.SystemPrompt = value
	case "proxy.history_window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants a number: %w", key, err)
		}
		cfg.Proxy.HistoryWindow = n
	case "storage.dir":
		cfg.Storage.Dir = value
	case "storage.journal":
		cfg.Storage.Journal = value
	case "sessions.ttl_hours":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants a number: %w", key, err)
		}
		cfg.Sessions.TTLHours = n
	case "gateway.address":
		cfg.Gateway.Address = value
	case "scheduler.prune_spec":
		cfg.Scheduler.PruneSpec = value
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.format":
		cfg.Logging.Format = value
	case "proxy.api_key", "telegram.bot_token", "gateway.auth_token":
		return fmt.Errorf("%s is a secret, store it with `dcassist config vault-set` instead", key)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func newConfigVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-init",
		Short: "Create the encrypted secret vault",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := assist.NewVault(assist.VaultFile)
			if vault.Exists() {
				return fmt.Errorf("vault already exists at %s", vault.Path())
			}

			password, err := assist.ReadPassword("Master password (min 8 chars): ")
			if err != nil {
				return err
			}
			if len(password) < 8 {
				return fmt.Errorf("password too short (minimum 8 characters)")
			}
			confirm, err := assist.ReadPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords don't match")
			}

			if err := vault.Create(password); err != nil {
				return fmt.Errorf("creating vault: %w", err)
			}
			vault.Lock()
			fmt.Printf("Vault created at %s\n", vault.Path())
			return nil
		},
	}
}

func newConfigVaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-set <name>",
		Short: "Store a secret in the vault",
		Long: `Store a secret in the encrypted vault. Known names:
  DCASSIST_API_KEY         proxy API key
  DCASSIST_TELEGRAM_TOKEN  Telegram bot token
  DCASSIST_GATEWAY_TOKEN   gateway bearer token`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vault := assist.NewVault(assist.VaultFile)
			if !vault.Exists() {
				return fmt.Errorf("no vault found, run `dcassist config vault-init` first")
			}

			password, err := assist.ReadPassword("Vault password: ")
			if err != nil {
				return err
			}
			if err := vault.Unlock(password); err != nil {
				return fmt.Errorf("unlocking vault: %w", err)
			}
			defer vault.Lock()

			value, err := assist.ReadPassword(fmt.Sprintf("Value for %s (hidden): ", args[0]))
			if err != nil {
				return err
			}
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("empty value")
			}

			if err := vault.Set(args[0], value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Printf("%s stored in the vault.\n", args[0])
			return nil
		},
	}
}

func newConfigVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-list",
		Short: "List the secret names stored in the vault",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := assist.NewVault(assist.VaultFile)
			if !vault.Exists() {
				return fmt.Errorf("no vault found, run `dcassist config vault-init` first")
			}

			password, err := assist.ReadPassword("Vault password: ")
			if err != nil {
				return err
			}
			if err := vault.Unlock(password); err != nil {
				return fmt.Errorf("unlocking vault: %w", err)
			}
			defer vault.Lock()

			names := vault.List()
			if len(names) == 0 {
				fmt.Println("Vault is empty.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// redactSecret masks real secret values but keeps env references readable.
func redactSecret(s string) string {
	if s == "" || assist.IsEnvReference(s) {
		return s
	}
	return "****"
}
