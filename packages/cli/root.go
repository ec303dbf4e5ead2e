// Package cli is the urlscan command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "urlscan",
		Short:         "urlscan: check URLs against reputation services, threat lists and a live browser",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("urlscan {{.Version}}\n")

	cmd.PersistentFlags().String("log-level", getenvDefault("LOG_LEVEL", ""), "Log level: debug|info|warn|error (overrides LOG_LEVEL)")

	cmd.AddCommand(newScanSingleCmd())
	cmd.AddCommand(newScanFileCmd())
	cmd.AddCommand(newFeedCmd(feedOpenPhish))
	cmd.AddCommand(newFeedCmd(feedCERT))
	cmd.AddCommand(newWatchCmd())

	return cmd
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
