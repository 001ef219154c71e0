// Command warden runs either the control plane (server) or a per-node
// agent, and doubles as the CLI for talking to a running control plane.
package main

import (
	"fmt"
	"os"

	"github.com/basinlabs/warden/pkg/log"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "warden",
	Short:   "Warden cluster workload orchestrator",
	Long:    `Warden schedules and runs jobs across a cluster of agent nodes.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", true, "Log in JSON format")
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:7500", "Control plane address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(templateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput, Output: os.Stdout})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
