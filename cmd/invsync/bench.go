package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/config"
	"github.com/steveyegge/invsync/internal/inventory/db"
	"github.com/steveyegge/invsync/internal/inventory/loadtest"
	"github.com/steveyegge/invsync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Run the synchronization pipeline against a synthetic inventory",
	Long: `Generate a synthetic inventory, synchronize it into a scratch store and
replay a stream of modify batches while concurrent readers query the store.

Reports pass persistence latency and query latency, and checks that the store
ends with the expected live counts.

Examples:
  # Default workload (1000 VMs, 50 batches, 4 readers)
  invsync bench

  # Larger inventory, more churn
  invsync bench --vms 5000 --batches 200 --changes 100

  # Output results as JSON
  invsync bench --json
`,
	RunE: runBench,
}

func init() {
	def := loadtest.DefaultConfig()
	benchCmd.Flags().Int("vms", def.VMs, "Number of virtual machines in the baseline")
	benchCmd.Flags().Int("hosts", def.Hosts, "Number of hosts in the baseline")
	benchCmd.Flags().Int("datastores", def.Datastores, "Number of datastores in the baseline")
	benchCmd.Flags().Int("batches", def.Batches, "Number of update batches to replay")
	benchCmd.Flags().Int("changes", def.ChangesPerBatch, "VM modifications per batch")
	benchCmd.Flags().Int("readers", def.Readers, "Number of concurrent readers")
	benchCmd.Flags().Int64("seed", def.Seed, "Workload seed")
	benchCmd.Flags().Duration("timeout", def.Timeout, "Abort the run after this long")
	benchCmd.Flags().String("store", "", "Store path (default: a scratch file that is removed afterwards)")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := loadtest.DefaultConfig()
	cfg.VMs, _ = cmd.Flags().GetInt("vms")
	cfg.Hosts, _ = cmd.Flags().GetInt("hosts")
	cfg.Datastores, _ = cmd.Flags().GetInt("datastores")
	cfg.Batches, _ = cmd.Flags().GetInt("batches")
	cfg.ChangesPerBatch, _ = cmd.Flags().GetInt("changes")
	cfg.Readers, _ = cmd.Flags().GetInt("readers")
	cfg.Seed, _ = cmd.Flags().GetInt64("seed")
	cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
	storePath, _ := cmd.Flags().GetString("store")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Logger = config.NewLogger(config.LogConfig{Quiet: true}, "bench")

	if storePath == "" {
		dir, err := os.MkdirTemp("", "invsync-bench-")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)
		storePath = filepath.Join(dir, "bench.db")
	}
	store, err := db.Open(storePath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("%s Running load test: %d VMs, %d hosts, %d batches x %d changes, %d readers\n\n",
			ui.RenderAccent("⟳"), cfg.VMs, cfg.Hosts, cfg.Batches, cfg.ChangesPerBatch, cfg.Readers)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := loadtest.Run(ctx, store, cfg)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Printf("Passes:   %d persisted, %d failed in %v\n", result.Passes, result.Failed, result.Duration.Round(time.Millisecond))
		fmt.Printf("Records:  %d VMs, %d disks live\n\n", result.Records["vm"].Live, result.Records["vm_disk"].Live)
		result.Passing.Print(os.Stdout, "Pass latency")
		fmt.Println()
		result.Queries.Print(os.Stdout, "Query latency")
		fmt.Println()
	}

	if !result.Consistent() {
		return fmt.Errorf("store is inconsistent: want %d VMs and %d disks, got %d and %d",
			result.ExpectedVMs, result.ExpectedDisks, result.Records["vm"].Live, result.Records["vm_disk"].Live)
	}
	if !jsonOutput {
		fmt.Printf("%s Store consistent\n", ui.RenderPass("✓"))
	}
	return nil
}
