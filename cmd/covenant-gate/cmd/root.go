// Package cmd provides the CLI commands for Covenant Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Covenant-Gate/Covenantgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "covenant-gate",
	Short: "Covenant Gate - Governed Action Pipeline",
	Long: `Covenant Gate is a governance corridor for agent actions.

Every request passes an input firewall, a policy decision kernel, a
capability-token side-effect gate, an output policy check, and an
output firewall. Every decision lands on a hash-linked receipt chain.

Quick start:
  1. Create a config file: covenant-gate.yaml
  2. Run: covenant-gate serve --dev

Configuration:
  Config is loaded from covenant-gate.yaml in the current directory,
  $HOME/.covenant-gate/, or /etc/covenant-gate/.

  Environment variables can override config values with the COVENANT_GATE_ prefix.
  Example: COVENANT_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the pipeline server
  verify      Verify the policy artifact and receipt chain
  hash-key    Generate a hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./covenant-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
