package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pcd/internal/control"
	"github.com/steveyegge/pcd/internal/pcdconfig"
)

var (
	stopSync bool
	stopKill bool
)

var stopCmd = &cobra.Command{
	Use:   "stop <group_rule>",
	Short: "Terminate a rule's running process",
	Long: `Sends TerminateProcess by default. --sync blocks the RPC until the
process has actually exited; --kill sends KillProcess (SIGKILL) instead of
the rule's usual termination signal.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVar(&stopSync, "sync", false, "wait for the process to exit before returning")
	stopCmd.Flags().BoolVar(&stopKill, "kill", false, "send SIGKILL instead of the rule's termination signal")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := pcdconfig.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ruleID, err := parseRuleID(args[0])
	if err != nil {
		return err
	}

	op := control.OpTerminateProcess
	switch {
	case stopKill:
		op = control.OpKillProcess
	case stopSync:
		op = control.OpTerminateProcessSync
	}

	reply, err := callDaemon(cfg, control.Request{Op: op, RuleID: ruleID})
	if err != nil {
		return err
	}
	if reply.Status != control.StatusOK {
		return fmt.Errorf("%s: %s", ruleID, statusLabel(reply.Status))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", ruleID)
	return nil
}
