package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/suggest"
)

// newSuggestCmd creates the `dcassist suggest` command.
func newSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Rank a one-off suggestion deck for a profile",
		Long: `Rank the suggestion catalogue against a profile's stored
conversation and print the resulting deck. Runs entirely offline: the
deck derives from the persisted history, the last sync status, and the
Telegram link, never from the proxy.

Examples:
  dcassist suggest
  dcassist suggest --profile trader-7 --scores`,
		RunE: runSuggest,
	}

	cmd.Flags().StringP("profile", "p", "local", "profile to rank against")
	cmd.Flags().Bool("scores", false, "print computed scores next to each entry")
	return cmd
}

func runSuggest(cmd *cobra.Command, args []string) error {
	assistant, err := offlineAssistant(cmd)
	if err != nil {
		return err
	}
	defer assistant.Stop()

	profile, _ := cmd.Flags().GetString("profile")
	ctrl, err := assistant.Controller(profile)
	if err != nil {
		return fmt.Errorf("opening profile: %w", err)
	}

	session := ctrl.Session()
	deck := suggest.Rank(suggest.Input{
		Messages:       session.Store().Messages(),
		Status:         ctrl.Status(),
		TelegramLinked: session.Telegram() != nil,
	}, assistant.Catalogue())

	if len(deck) == 0 {
		fmt.Println("No suggestions ranked.")
		return nil
	}

	withScores, _ := cmd.Flags().GetBool("scores")
	for i, s := range deck {
		if withScores {
			fmt.Printf("%2d) %-50s %.2f\n", i+1, s.Text, s.Score)
		} else {
			fmt.Printf("%2d) %s\n", i+1, s.Text)
		}
	}
	return nil
}
