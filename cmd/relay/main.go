// Package main provides the relay binary.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command for the relay binary.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relay provider push notifications to chat destinations",
		Long:         "Relay receives video, livestream and blog push callbacks, drops repeats and fans new items out to subscribed destinations.",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.SetVersionTemplate("relay version {{.Version}}\n")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRenewCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}
