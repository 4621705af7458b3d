package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/config"
	"github.com/steveyegge/invsync/internal/inventory/cache"
	"github.com/steveyegge/invsync/internal/inventory/daemon"
	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/queue"
	"github.com/steveyegge/invsync/internal/inventory/vsphere"
	"github.com/steveyegge/invsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full pass and exit",
	Long: `Connect to the configured source, enumerate the full inventory and persist
it as a full pass:
  1. Records seen in the enumeration are inserted or updated
  2. Records of enumerated types that were not seen are archived (if they
     carry a UID) or deleted
  3. Relations are resolved against the store; unresolved ones are stored as null`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("json", false, "Output the pass result as JSON")
	syncCmd.Flags().Duration("timeout", 5*time.Minute, "Give up after this long")
	syncCmd.Flags().Bool("ask-password", false, "Prompt for the source password if none is configured")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	creds, err := credentials(cmd, cfg)
	if err != nil {
		return err
	}
	sub, err := newSubscription(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := config.NewLogger(cfg.Log, "sync")
	status := &statusRecorder{store: store}

	var job *graph.Job
	var persistErr error
	qcfg := newQueueConfig(cfg, queue.ModeSync)
	qcfg.OnPersisted = func(j queue.Job, took time.Duration) { job, _ = j.(*graph.Job) }
	qcfg.OnFailed = func(j queue.Job, err error) { persistErr = err }
	queueHooks(cfg, qcfg, status, logger.Printf)
	q := queue.New(qcfg)
	defer q.Stop(false)

	builder := graph.NewBuilder(vsphere.NewRegistry(), cfg.Source.Name, config.NewLogger(cfg.Log, "graph"))
	d, err := daemon.New(sub, creds, cache.New(), builder, store, q, status, &daemon.Config{
		Source: cfg.Source.Name,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !jsonOutput {
		fmt.Printf("%s Syncing from %s (%s)...\n", ui.RenderAccent("⟳"), cfg.Source.Name, cfg.Source.Type)
	}
	start := time.Now()
	if err := d.RunOnce(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if persistErr != nil {
		return fmt.Errorf("sync failed: %w", persistErr)
	}
	if job == nil || job.Result() == nil {
		return fmt.Errorf("sync produced no pass")
	}

	result := job.Result()
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"pass_id": job.ID(),
			"version": job.Graph().Version,
			"result":  result,
		})
	}

	fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Version:     %s\n", job.Graph().Version)
	fmt.Printf("   Inserted:    %d\n", result.Inserted)
	fmt.Printf("   Updated:     %d\n", result.Updated)
	fmt.Printf("   Archived:    %d\n", result.Archived)
	fmt.Printf("   Deleted:     %d\n", result.Deleted)
	fmt.Printf("   Reconnected: %d\n", len(result.Reconnected))
	if result.Unresolved > 0 {
		fmt.Printf("   %s %d relation(s) could not be resolved\n", ui.RenderWarn("⚠"), result.Unresolved)
	}
	fmt.Printf("   Store:       %s\n", cfg.Store.Path)
	return nil
}
