package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/config"
	"github.com/steveyegge/invsync/internal/inventory/cache"
	"github.com/steveyegge/invsync/internal/inventory/daemon"
	"github.com/steveyegge/invsync/internal/inventory/dashboard"
	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/queue"
	"github.com/steveyegge/invsync/internal/inventory/vsphere"
	"github.com/steveyegge/invsync/internal/ui"
	"golang.org/x/sync/errgroup"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the live synchronization loop (foreground)",
	Long: `Run the synchronization loop in the foreground until interrupted.

The daemon will:
  1. Connect to the configured source and enumerate the full inventory
  2. Persist the enumeration as a full pass
  3. Wait for change batches and persist each as a targeted pass
  4. Reconnect and resynchronize after any session fault

With --dashboard (or dashboard.enabled), pass and source status events are
broadcast over WebSocket:
  ws://HOST:PORT/ws`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard")
	daemonCmd.Flags().Int("port", 0, "Dashboard port (overrides dashboard.port)")
	daemonCmd.Flags().Bool("ask-password", false, "Prompt for the source password if none is configured")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if on, _ := cmd.Flags().GetBool("dashboard"); on {
		cfg.Dashboard.Enabled = true
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Dashboard.Port = port
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

	logger := config.NewLogger(cfg.Log, "daemon")
	status := &statusRecorder{store: store}

	qcfg := newQueueConfig(cfg, queue.Mode(cfg.Queue.Mode))

	var server *dashboard.Server
	if cfg.Dashboard.Enabled {
		server = dashboard.NewServer(&dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   cfg.Dashboard.Port,
			Logger: config.NewLogger(cfg.Log, "dashboard"),
		})
		handler := dashboard.NewHandler(server, config.NewLogger(cfg.Log, "dashboard"))
		qcfg.OnPersisted = handler.OnPersisted
		qcfg.OnFailed = handler.OnFailed
		status.onChange = handler.OnSourceStatus
	}
	queueHooks(cfg, qcfg, status, logger.Printf)
	q := queue.New(qcfg)

	builder := graph.NewBuilder(vsphere.NewRegistry(), cfg.Source.Name, config.NewLogger(cfg.Log, "graph"))
	d, err := daemon.New(sub, creds, cache.New(), builder, store, q, status, &daemon.Config{
		Source:         cfg.Source.Name,
		ReconnectDelay: cfg.Daemon.ReconnectDelay,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	if server != nil {
		server.SetHealth(func() map[string]any {
			return map[string]any{"daemon": d.Stats(), "queue": q.Stats()}
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s Starting invsync daemon for %s (%s)\n", ui.RenderAccent("▶"), cfg.Source.Name, cfg.Source.Type)
	fmt.Printf("   Store: %s\n", cfg.Store.Path)
	if server != nil {
		fmt.Printf("   Dashboard: ws://%s:%d/ws\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	q.Start()
	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	g.Go(func() error {
		defer close(loopDone)
		return d.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			d.Stop()
		case <-loopDone:
		}
		return nil
	})
	if server != nil {
		g.Go(func() error {
			runCtx, cancel := context.WithCancel(gctx)
			defer cancel()
			go func() {
				select {
				case <-loopDone:
					cancel()
				case <-runCtx.Done():
				}
			}()
			return server.Run(runCtx)
		})
	}

	err = g.Wait()

	fmt.Println("\nDraining persistence queue...")
	q.Stop(true)
	stats := q.Stats()
	fmt.Printf("%s Stopped: %d passes persisted, %d failed, %d dropped\n",
		ui.RenderPass("✓"), stats.Processed, stats.Failed, stats.Dropped)

	if err != nil {
		return fmt.Errorf("daemon stopped with error: %w", err)
	}
	return nil
}
