package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/suggest"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/widget"
)

// newChatCmd creates the `dcassist chat` command.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Send one message or start an interactive session against the
configured chat proxy. The conversation persists under the given profile,
exactly as the web widget stores it.

Examples:
  dcassist chat "Show me today's market outlook"
  dcassist chat --profile trader-7`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("profile", "p", "local", "profile the conversation belongs to")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("no configuration found, run `dcassist setup` first: %w", err)
	}

	// Keep the terminal clean: warnings and errors only, on stderr.
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
	ctrl, err := assistant.Controller(profile)
	if err != nil {
		return fmt.Errorf("opening profile: %w", err)
	}

	ctx := context.Background()

	// A boot failure leaves the offline playbook in place; the conversation
	// printout below shows it.
	_ = ctrl.Boot(ctx)

	if len(args) > 0 {
		return sendOnce(ctx, ctrl, args[0])
	}
	return runREPL(ctx, ctrl)
}

// sendOnce submits one message and streams the reply to stdout.
func sendOnce(ctx context.Context, ctrl *widget.Controller, text string) error {
	err := ctrl.Submit(ctx, text, func(chunk string) {
		fmt.Print(chunk)
	})
	fmt.Println()
	if err != nil {
		printFailure(ctrl)
		return err
	}
	return nil
}

const replHelp = `Commands:
  /suggest   show suggested questions
  /cycle     show more suggestions
  /retry     clear the offline playbook and resync
  /reset     clear the local conversation
  /status    show the widget state
  /help      this list
  /quit      leave

Typing a bare number sends that suggestion.`

// runREPL drives the interactive terminal session.
func runREPL(ctx context.Context, ctrl *widget.Controller) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), "dcassist_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return fmt.Errorf("starting terminal: %w", err)
	}
	defer rl.Close()

	printConversation(ctrl)
	shown := ctrl.Suggestions()
	printSuggestions(shown)
	fmt.Println("Type a message, /suggest for ideas, /quit to leave.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// A bare number picks the matching suggestion from the last page.
		if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(shown) {
			ctrl.UseSuggestion(shown[n-1].Text)
			line = ctrl.Input()
			fmt.Printf("you> %s\n", line)
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Println(replHelp)
		case line == "/suggest":
			shown = ctrl.Suggestions()
			printSuggestions(shown)
		case line == "/cycle":
			shown = ctrl.CycleSuggestions()
			printSuggestions(shown)
		case line == "/retry":
			if err := ctrl.Retry(ctx); err != nil {
				printFailure(ctrl)
			} else {
				fmt.Println("synced.")
				printConversation(ctrl)
			}
		case line == "/reset":
			ctrl.Reset()
			fmt.Println("conversation cleared.")
		case line == "/status":
			st := ctrl.Snapshot()
			fmt.Printf("status=%s messages=%d fallback=%v session=%s\n",
				st.Status, st.Messages, st.HasFallback, st.SessionID)
		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown command, /help lists them.")
		default:
			fmt.Print("assistant> ")
			err := ctrl.Submit(ctx, line, func(chunk string) {
				fmt.Print(chunk)
			})
			fmt.Println()
			if err != nil {
				printFailure(ctrl)
			}
			shown = ctrl.Suggestions()
		}
	}
}

// printConversation renders the stored conversation, fallback included.
func printConversation(ctrl *widget.Controller) {
	for _, m := range ctrl.Conversation() {
		switch m.Role {
		case chat.RoleUser:
			fmt.Printf("you> %s\n", m.Content)
		default:
			fmt.Printf("assistant> %s\n", m.Content)
		}
	}
}

// printSuggestions renders the current suggestion page as a numbered list.
func printSuggestions(sugs []suggest.Ranked) {
	if len(sugs) == 0 {
		return
	}
	fmt.Println("try asking:")
	for i, s := range sugs {
		fmt.Printf("  %d) %s\n", i+1, s.Text)
	}
}

// printFailure explains a failed exchange: the notice, then the offline
// playbook when one was persisted.
func printFailure(ctrl *widget.Controller) {
	if n := ctrl.LastNotice(); n != nil {
		fmt.Println(n.Text)
	}
	if fb, ok := ctrl.Session().Fallback(); ok {
		fmt.Println(fb.Content)
	}
}
