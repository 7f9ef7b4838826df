// Package cmd implements the serialbridge command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "SerialBridge"
	appVersion = "1.0.0"
)

var (
	configPath string
	debug      bool
)

// rootCmd runs the bridge when no subcommand is given
var rootCmd = &cobra.Command{
	Use:   "serialbridge",
	Short: "Expose host serial ports over the network",
	Long: `serialbridge takes ownership of serial ports on this host and exposes them
to network clients.

Clients list, open, read, write and close ports over HTTP (reads stream as
Server-Sent Events) or NATS request-reply. Every open port can also get a raw
UDP side-channel.

Running serialbridge without a subcommand is the same as "serialbridge serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configPath, debug)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (json or yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
