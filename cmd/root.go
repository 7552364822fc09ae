// Package cmd implements the gateway's command-line entrypoint (spec §6
// process model), grounded on the teacher's cobra root-command wiring:
// persistent flags default from environment variables, one Run func per
// subcommand, Execute() at the bottom of main.go.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "kiro-gateway",
	Short: "Kiro Gateway — Anthropic/OpenAI-compatible proxy for the Kiro backend",
	Long:  "Kiro Gateway translates Anthropic Messages API and OpenAI chat/completions requests into the proprietary Kiro streaming protocol and back.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kiro-gateway %s\n", Version)
		},
	}
}

// Execute runs the root cobra command and exits the process with status 1
// when the command itself fails (an unknown flag or subcommand). The serve
// subcommand exits on its own with runServe's code (0 success, 64 invalid
// config, 77 no credential, 1 server error).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
