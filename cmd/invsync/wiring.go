package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/config"
	"github.com/steveyegge/invsync/internal/inventory/db"
	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/queue"
	"github.com/steveyegge/invsync/internal/inventory/schema"
	"github.com/steveyegge/invsync/internal/inventory/source"
	"github.com/steveyegge/invsync/internal/ui"
)

// loadConfig reads and validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the database and makes sure the schema exists.
func openStore(cfg *config.Config) (*db.DB, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	store, err := db.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// openExistingStore opens the database for reading; it does not create one.
func openExistingStore(cfg *config.Config) (*db.DB, error) {
	if _, err := os.Stat(cfg.Store.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store %s does not exist; run 'invsync sync' first", cfg.Store.Path)
		}
		return nil, err
	}
	return openStore(cfg)
}

// newSubscription builds the remote source selected by source.type.
func newSubscription(cfg *config.Config) (source.Subscription, error) {
	src := cfg.Source
	switch src.Type {
	case config.SourceWebSocket:
		ws := source.NewWebSocket(src.URL)
		if src.DialTimeout > 0 {
			ws.DialTimeout = src.DialTimeout
		}
		ws.WaitTimeout = src.WaitTimeout
		return ws, nil

	case config.SourceReplay:
		r := source.NewReplay(src.Dir)
		r.WaitTimeout = src.WaitTimeout
		r.Logger = config.NewLogger(cfg.Log, "replay")
		return r, nil

	case config.SourceMemory:
		var baseline []schema.ObjectSnapshot
		if src.Dir != "" {
			path := filepath.Join(src.Dir, source.BaselineFile)
			if _, err := os.Stat(path); err == nil {
				baseline, err = schema.ReadSnapshotFile(path)
				if err != nil {
					return nil, err
				}
			}
		}
		m := source.NewMemory("memory", baseline)
		m.WaitTimeout = src.WaitTimeout
		return m, nil
	}
	return nil, fmt.Errorf("unknown source type %q", src.Type)
}

// credentials returns the configured credentials, prompting for a missing
// password when asked to.
func credentials(cmd *cobra.Command, cfg *config.Config) (source.Credentials, error) {
	creds := source.Credentials{Username: cfg.Source.Username, Password: cfg.Source.Password}
	ask, _ := cmd.Flags().GetBool("ask-password")
	if !ask || creds.Password != "" {
		return creds, nil
	}
	pw, ok, err := ui.PromptPassword(fmt.Sprintf("Password for %s: ", creds.Username))
	if err != nil {
		return creds, fmt.Errorf("failed to read password: %w", err)
	}
	if !ok {
		return creds, fmt.Errorf("--ask-password needs an interactive terminal")
	}
	creds.Password = pw
	return creds, nil
}

// statusRecorder stores source status and reports each change.
type statusRecorder struct {
	store    *db.DB
	onChange func(*db.SourceStatus)
}

func (r *statusRecorder) RecordStatus(ctx context.Context, source, version string, err error) error {
	if rerr := r.store.RecordStatus(ctx, source, version, err); rerr != nil {
		return rerr
	}
	if r.onChange != nil {
		if st, gerr := r.store.GetSourceStatus(ctx, source); gerr == nil {
			r.onChange(st)
		}
	}
	return nil
}

// queueHooks records pass outcomes on the source status.
func queueHooks(cfg *config.Config, qcfg *queue.Config, status *statusRecorder, logger func(string, ...any)) {
	record := func(job queue.Job, err error) {
		version := ""
		if gj, ok := job.(*graph.Job); ok {
			version = gj.Graph().Version
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := status.RecordStatus(ctx, cfg.Source.Name, version, err); rerr != nil {
			logger("Error recording status: %v", rerr)
		}
	}

	onPersisted, onFailed := qcfg.OnPersisted, qcfg.OnFailed
	qcfg.OnPersisted = func(job queue.Job, took time.Duration) {
		record(job, nil)
		if onPersisted != nil {
			onPersisted(job, took)
		}
	}
	qcfg.OnFailed = func(job queue.Job, err error) {
		record(job, err)
		if onFailed != nil {
			onFailed(job, err)
		}
	}
}

// newQueueConfig maps the queue section onto a queue.Config.
func newQueueConfig(cfg *config.Config, mode queue.Mode) *queue.Config {
	return &queue.Config{
		Mode:         mode,
		IdleInterval: cfg.Queue.IdleInterval,
		JoinTimeout:  cfg.Queue.JoinTimeout,
		MaxPending:   cfg.Queue.MaxPending,
		Logger:       config.NewLogger(cfg.Log, "queue"),
	}
}
