// Command pcd is the process control daemon and its command-line client:
// "pcd run" starts the supervisor in the foreground, the other subcommands
// talk to a running supervisor over the control-plane transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pcd",
	Short: "Process control daemon",
	Long: `pcd supervises a set of declaratively configured rules: each names a
command, the conditions that start and end it, and what to do if it fails.

Run "pcd run" to start the daemon in the foreground. The other subcommands
are a client for an already-running instance, talking to it over its
control-plane socket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/pcd/pcd.json", "path to the daemon's JSON config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
