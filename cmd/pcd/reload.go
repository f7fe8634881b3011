package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pcd/internal/control"
	"github.com/steveyegge/pcd/internal/pcdconfig"
)

var reloadParams string

var reloadCmd = &cobra.Command{
	Use:   "reload <group_rule>",
	Short: "(Re)activate a rule, optionally overriding its parameters",
	Long: `Sends StartProcess, which moves the named rule to Active. If the
rule is a daemon that died or a one-shot that already completed, this is how
it gets re-armed; --params substitutes the rule's default argv tail for this
invocation only.`,
	Args: cobra.ExactArgs(1),
	RunE: runReload,
}

func init() {
	reloadCmd.Flags().StringVar(&reloadParams, "params", "", "override this invocation's argv tail")
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, err := pcdconfig.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ruleID, err := parseRuleID(args[0])
	if err != nil {
		return err
	}

	reply, err := callDaemon(cfg, control.Request{Op: control.OpStartProcess, RuleID: ruleID, Params: reloadParams})
	if err != nil {
		return err
	}
	if reply.Status != control.StatusOK {
		return fmt.Errorf("%s: %s", ruleID, statusLabel(reply.Status))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s reloaded (%s)\n", ruleID, reply.RuleState)
	return nil
}
