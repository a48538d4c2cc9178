// Package commands implements the dcassist CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dcassist",
		Short: "Dynamic Capital Assistant - member chat service",
		Long: `dcassist runs the Dynamic Capital member assistant: per-profile
conversation state, the chat proxy transport, and the HTTP gateway the
web widget embeds talk to.

Examples:
  dcassist serve
  dcassist chat "How do I become a VIP member?"
  dcassist sessions list
  dcassist link --profile trader-7`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSuggestCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newSessionsCmd(),
		newLinkCmd(),
		newHealthCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
