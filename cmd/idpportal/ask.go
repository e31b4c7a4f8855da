package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/orchestrator"
)

var (
	askConversation string
	askUser         string
	askShowAgents   bool
)

var (
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	toolStyle  = lipgloss.NewStyle().Faint(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Run one request through the supervisor and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		convID := askConversation
		if convID == "" {
			convID = uuid.NewString()
		}
		ctx := actor.WithActor(cmd.Context(), askUser)
		res, err := a.supervisor.Run(ctx, strings.Join(args, " "), convID)
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), res, askShowAgents)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "continue the stored conversation with this id")
	askCmd.Flags().StringVar(&askUser, "user", "cli", "actor recorded for the run")
	askCmd.Flags().BoolVar(&askShowAgents, "agents", false, "also print each agent's output")
}

func printRun(w io.Writer, res *orchestrator.RunResult, showAgents bool) {
	if showAgents && res.Outputs != nil {
		for name, out := range res.Outputs.All() {
			fmt.Fprintln(w, agentStyle.Render(name))
			if len(out.ToolsUsed) > 0 {
				fmt.Fprintln(w, toolStyle.Render("tools: "+strings.Join(out.ToolsUsed, ", ")))
			}
			fmt.Fprintln(w, out.Content)
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, res.FinalMessage())
	if res.Truncated {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("(stopped after %d iterations)", res.Iterations)))
	}
	fmt.Fprintln(w, toolStyle.Render("conversation: "+res.ConversationID))
}
