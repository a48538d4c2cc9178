package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
)

// newLinkCmd creates the `dcassist link` command for Telegram account
// linking.
func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a profile to a Telegram account",
		Long: `Print the Telegram deep link a member opens to bind their account,
or bind a chat directly when the chat id is already known.

Examples:
  dcassist link --profile trader-7
  dcassist link --profile trader-7 --chat-id 123456789 --username traderseven
  dcassist link --profile trader-7 --unlink`,
		RunE: runLink,
	}

	cmd.Flags().StringP("profile", "p", "", "profile to link (required)")
	cmd.Flags().Int64("chat-id", 0, "Telegram chat id to bind directly")
	cmd.Flags().String("username", "", "Telegram username to bind directly")
	cmd.Flags().Bool("unlink", false, "remove the Telegram binding")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func runLink(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("no configuration found, run `dcassist setup` first: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assist.AuditSecrets(cfg, logger)
	vault := assist.ResolveSecrets(cfg, logger)

	assistant, err := assist.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("building assistant: %w", err)
	}
	if vault != nil {
		assistant.SetVault(vault)
	}
	defer assistant.Stop()

	profile, _ := cmd.Flags().GetString("profile")
	chatID, _ := cmd.Flags().GetInt64("chat-id")
	username, _ := cmd.Flags().GetString("username")
	unlink, _ := cmd.Flags().GetBool("unlink")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if unlink {
		if err := assistant.UnlinkTelegram(profile); err != nil {
			return err
		}
		fmt.Printf("Telegram unlinked from %s.\n", profile)
		return nil
	}

	if chatID != 0 || username != "" {
		if chatID == 0 || username == "" {
			return fmt.Errorf("direct binding needs both --chat-id and --username")
		}
		if err := assistant.LinkTelegram(ctx, profile, chatID, username); err != nil {
			return err
		}
		fmt.Printf("Telegram @%s linked to %s.\n", username, profile)
		return nil
	}

	tg := assistant.Telegram()
	if !tg.Enabled() {
		return fmt.Errorf("telegram is not configured, set telegram.bot_token first")
	}

	// Fills in the bot username when the config doesn't carry it.
	if _, err := tg.Verify(ctx); err != nil {
		return fmt.Errorf("verifying bot: %w", err)
	}

	url := tg.LinkURL(profile)
	if url == "" {
		return fmt.Errorf("bot username unknown, set telegram.bot_username in config")
	}
	fmt.Printf("Send this link to the member:\n  %s\n", url)
	return nil
}
