package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Show source status and record counts",
	Long: `Display the state of the local store.

Shows:
  - Store file location and size
  - For each source, the last good version and the last error
  - Live and archived record counts per record type`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	info, err := os.Stat(cfg.Store.Path)
	if os.IsNotExist(err) {
		fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
		fmt.Printf("   Run 'invsync sync' to create %s\n\n", cfg.Store.Path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check store: %w", err)
	}

	store, err := openExistingStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sources, err := store.ListSourceStatus(ctx)
	if err != nil {
		return err
	}
	counts, err := store.CountRecords(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"store":   cfg.Store.Path,
			"sources": sources,
			"records": counts,
		})
	}

	fmt.Printf("\n%s invsync store status\n\n", ui.RenderAccent("■"))
	fmt.Printf("Location: %s\n", cfg.Store.Path)
	fmt.Printf("Size:     %s\n", formatSize(info.Size()))
	fmt.Printf("Modified: %s\n\n", info.ModTime().Format("2006-01-02 15:04:05"))

	if len(sources) == 0 {
		fmt.Printf("%s\n\n", ui.RenderMuted("No source has synchronized yet"))
	}
	for _, s := range sources {
		mark := ui.RenderPass("✓")
		if !s.Healthy() {
			mark = ui.RenderFail("✗")
		}
		fmt.Printf("%s %s\n", mark, s.Name)
		fmt.Printf("   Last version: %s\n", orDash(s.LastVersion))
		fmt.Printf("   Last success: %s\n", formatTime(s.LastSuccessAt))
		if s.LastError != "" {
			fmt.Printf("   Last error:   %s (%s)\n", s.LastError, formatTime(s.LastErrorAt))
		}
		fmt.Println()
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		c := counts[t]
		rows = append(rows, []string{t, strconv.Itoa(c.Live), strconv.Itoa(c.Archived)})
	}
	fmt.Print(ui.Table([]string{"TYPE", "LIVE", "ARCHIVED"}, rows))
	fmt.Println()
	return nil
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
