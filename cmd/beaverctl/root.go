// Command beaverctl is the operator CLI for a beaver-raft service
// process: it can inspect a log segment on disk, replay committed
// entries through the demo key/value machine to reconstruct state,
// and run a short end-to-end demo of the two cores wired together
// through internal/service. It follows the teacher's internal/cli
// BuildCLI shape (a cobra root command with a persistent --config
// flag and one subcommand per top-level verb), collapsed into
// package main since this repo has only one binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/beaver-raft/internal/config"
)

var configFile string

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "beaverctl",
		Short: "Operator CLI for a beaver-raft service process",
		Long: `beaverctl inspects and replays the on-disk log segments of a
beaver-raft deterministic service executor, and can run a short demo
wiring the executor and log segment together through internal/service.`,
		Version: "0.1.0",
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults to built-in defaults)")

	root.AddCommand(buildInspectCommand())
	root.AddCommand(buildReplayCommand())
	root.AddCommand(buildDemoCommand())

	return root
}

func loadConfig() (config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "beaverctl: fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "beaverctl: %v\n", err)
		os.Exit(1)
	}
}
