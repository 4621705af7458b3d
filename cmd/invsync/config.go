package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/config"
	"github.com/steveyegge/invsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and INVSYNC_
environment overrides are applied. The password is redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		path, _ := cmd.Flags().GetString("config")

		cfg, err := config.Read(path)
		if err != nil {
			return err
		}
		if cfg.File != "" {
			fmt.Fprintf(os.Stderr, "# %s\n", cfg.File)
		} else {
			fmt.Fprintln(os.Stderr, "# no config file found, showing defaults")
		}
		if err := encode(os.Stdout, format, "invsync", cfg.Redacted()); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringP("format", "o", formatYAML, "Output format: yaml, toml or json")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
