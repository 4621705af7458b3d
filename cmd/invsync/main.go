// Command invsync mirrors a remote inventory into a local SQLite store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "invsync",
	Short: "Mirror a remote inventory into a local record store",
	Long: `invsync subscribes to a remote inventory's change feed, keeps a property
cache of every object, maps objects onto typed records and persists each
batch of changes as one transaction.

Configuration is read from invsync.yaml or invsync.toml in the working
directory or $HOME/.config/invsync, or from --config. Any key can be
overridden with an INVSYNC_ environment variable, e.g. INVSYNC_SOURCE_PASSWORD.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (yaml or toml)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "query", Title: "Inspecting the store:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	err := rootCmd.Execute()
	if cerr := config.CloseLogs(); cerr != nil && err == nil {
		fmt.Fprintf(os.Stderr, "Error closing logs: %v\n", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
