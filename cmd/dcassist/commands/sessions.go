package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
)

// newSessionsCmd creates the `dcassist sessions` command group.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage member conversations",
		Long: `Inspect and manage the conversations persisted on this machine.

Examples:
  dcassist sessions list
  dcassist sessions show trader-7
  dcassist sessions clear trader-7 --yes`,
	}

	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsShowCmd(),
		newSessionsClearCmd(),
	)

	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored profiles with message counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			assistant, err := offlineAssistant(cmd)
			if err != nil {
				return err
			}
			defer assistant.Stop()

			if err := hydrateProfiles(assistant); err != nil {
				return err
			}

			metas := assistant.Sessions().List()
			if len(metas) == 0 {
				fmt.Println("No stored conversations.")
				return nil
			}
			fmt.Printf("%-24s %8s %9s %s\n", "PROFILE", "MESSAGES", "TELEGRAM", "LAST ACTIVE")
			for _, m := range metas {
				tg := "-"
				if m.Telegram {
					tg = "linked"
				}
				fmt.Printf("%-24s %8d %9s %s\n",
					m.ProfileID, m.MessageCount, tg, m.LastActiveAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Print a profile's stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assistant, err := offlineAssistant(cmd)
			if err != nil {
				return err
			}
			defer assistant.Stop()

			ctrl, err := assistant.Controller(args[0])
			if err != nil {
				return fmt.Errorf("opening profile: %w", err)
			}
			msgs := ctrl.Conversation()
			if len(msgs) == 0 {
				fmt.Println("No stored messages for this profile.")
				return nil
			}
			printConversation(ctrl)
			return nil
		},
	}
}

func newSessionsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <profile>",
		Short: "Delete a profile's conversation, journal rows, and mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}

			assistant, err := offlineAssistant(cmd)
			if err != nil {
				return err
			}
			defer assistant.Stop()

			if err := assistant.DeleteProfile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Profile %s cleared.\n", args[0])
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm the deletion")
	return cmd
}

// offlineAssistant builds an assistant for local inspection without starting
// the scheduler or touching the network.
func offlineAssistant(cmd *cobra.Command) (*assist.Assistant, error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("no configuration found, run `dcassist setup` first: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	assistant, err := assist.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building assistant: %w", err)
	}
	return assistant, nil
}

// hydrateProfiles loads every profile found on disk into the session
// manager, so listing reflects the stored state rather than a fresh process.
func hydrateProfiles(assistant *assist.Assistant) error {
	dir := filepath.Join(assistant.Config().Storage.Dir, "profiles")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading profiles dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := assistant.Controller(e.Name()); err != nil {
			return fmt.Errorf("loading profile %s: %w", e.Name(), err)
		}
	}
	return nil
}
