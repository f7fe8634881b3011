package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pcd/internal/pcdconfig"
	"github.com/steveyegge/pcd/internal/supervisor"
)

var tomlOverridePath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Loads the config file (falling back to built-in defaults if it doesn't
exist), parses the rules file it names, and runs the tick loop until a
termination signal arrives.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&tomlOverridePath, "overrides", "", "optional TOML file overlaying select config fields")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := pcdconfig.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if tomlOverridePath != "" {
		if err := pcdconfig.ApplyTOMLOverrides(tomlOverridePath, cfg); err != nil {
			return fmt.Errorf("applying overrides: %w", err)
		}
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing supervisor: %w", err)
	}
	sup.WatchFaults()

	return sup.Run(context.Background())
}
