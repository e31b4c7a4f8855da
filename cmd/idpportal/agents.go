package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opentalon/idpportal/internal/orchestrator"
)

var agentsShowTools bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents that register with the current config",
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

		printAgents(cmd.OutOrStdout(), a.registry, agentsShowTools)
		if len(a.regErrors) > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("not registered:"))
			for _, err := range a.regErrors {
				fmt.Fprintln(cmd.OutOrStdout(), "  "+err.Error())
			}
		}
		return nil
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsShowTools, "tools", false, "list each agent's tools")
}

func printAgents(w io.Writer, reg *orchestrator.Registry, showTools bool) {
	for _, name := range reg.List() {
		h, ok := reg.Get(name)
		if !ok {
			continue
		}
		m := h.Manifest()
		fmt.Fprintf(w, "%s  %s\n", agentStyle.Render(name), m.Description)
		fmt.Fprintln(w, toolStyle.Render("  capabilities: "+strings.Join(m.CapabilityNames(), ", ")))
		if !showTools {
			continue
		}
		for _, t := range h.Tools() {
			fmt.Fprintf(w, "    %s: %s\n", t.Name(), t.Spec.Description)
		}
	}
}
