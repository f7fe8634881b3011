package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pcd/internal/rulesfile"
	"github.com/steveyegge/pcd/internal/ruleset"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rules-file>",
	Short: "Parse a rules file and check it for dangling references and cycles",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	store := ruleset.NewStore()
	if err := rulesfile.Parse(args[0], store); err != nil {
		return err
	}

	errs := rulesfile.CheckReferences(store)
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}

	for _, e := range errs {
		fmt.Fprintln(cmd.OutOrStdout(), e)
	}
	return fmt.Errorf("%d reference problem(s) found", len(errs))
}
