package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/steveyegge/pcd/internal/control"
	"github.com/steveyegge/pcd/internal/pcdconfig"
)

var titleCaser = cases.Title(language.English)

var statusCmd = &cobra.Command{
	Use:   "status <group_rule>",
	Short: "Query a rule's current state from a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := pcdconfig.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ruleID, err := parseRuleID(args[0])
	if err != nil {
		return err
	}

	reply, err := callDaemon(cfg, control.Request{Op: control.OpGetRuleState, RuleID: ruleID})
	if err != nil {
		return err
	}
	if reply.Status != control.StatusOK {
		return fmt.Errorf("%s: %s", ruleID, statusLabel(reply.Status))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ruleID, statusColumn(reply.RuleState.String()))
	return nil
}

// statusColumn title-cases the state name, clipped to the terminal width
// when stdout is a TTY narrower than the label itself.
func statusColumn(state string) string {
	label := titleCaser.String(state)
	if w, _, err := term.GetSize(1); err == nil && w > 0 && w < len(label) {
		return label[:w]
	}
	return label
}

func statusLabel(s control.Status) string {
	switch s {
	case control.StatusInvalidRule:
		return "no such rule"
	case control.StatusBadParams:
		return "bad parameters"
	case control.StatusTimeout:
		return "timed out"
	default:
		return "error"
	}
}
