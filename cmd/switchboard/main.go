// Package main is the switchboard server binary: a WebSocket messaging hub
// extended by built-in and Lua plugins.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Real-time messaging hub with plugins",
		Long: `Switchboard keeps many persistent WebSocket connections open and lets
plugins react to and emit namespaced events over them, including
request/reply.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		pluginsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
