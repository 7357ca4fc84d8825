package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const usage = `Runs a single ad-view overlay node.

EXAMPLES:
  Start a node using the descriptor's own endpoint, bootstrapping
  against the descriptor's configured seed peers:
    overlaynode run --id hugo --config nodes.yaml

  Override the bootstrap set for a one-off test run:
    overlaynode run --id hugo --config nodes.yaml --bootstrap bot-alpha --bootstrap bot-bravo`

var rootCmd = &cobra.Command{
	Use:   "overlaynode",
	Short: "Run an ad-view overlay node",
	Long:  usage,
}

var (
	flagID        string
	flagConfig    string
	flagBootstrap []string
	flagVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the node runtime and serve until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(flagID, flagConfig, flagBootstrap, flagVerbose)
	},
}

func init() {
	runCmd.Flags().StringVar(&flagID, "id", "", "this node's id (required)")
	runCmd.Flags().StringVar(&flagConfig, "config", "", "path to the node descriptor YAML file (required)")
	runCmd.Flags().StringArrayVar(&flagBootstrap, "bootstrap", nil, "bootstrap peer id (repeatable); overrides the descriptor's bootstrap set")
	runCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging")
	runCmd.MarkFlagRequired("id")
	runCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
}

// Execute runs the program using cobra, exiting 1 on any error surfaced
// by a subcommand.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
