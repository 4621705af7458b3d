package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steveyegge/invsync/internal/config"
	"github.com/steveyegge/invsync/internal/inventory/db"
	"github.com/steveyegge/invsync/internal/inventory/schema"
	"github.com/steveyegge/invsync/internal/inventory/source"
)

func TestEncodeFormats(t *testing.T) {
	v := map[string]db.RecordCount{"vm": {Live: 2, Archived: 1}}

	tests := []struct {
		format string
		want   string
	}{
		{formatJSON, `"live": 2`},
		{formatYAML, "live: 2"},
		{formatTOML, "[counts.vm]"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := encode(&buf, tt.format, "counts", v); err != nil {
				t.Fatalf("encode() failed: %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}

	if err := encode(&bytes.Buffer{}, "xml", "counts", v); err == nil {
		t.Error("encode(xml) succeeded, want error")
	}
}

func TestNewSubscription(t *testing.T) {
	cfg := config.Default()

	cfg.Source.URL = "ws://collector.example/updates"
	sub, err := newSubscription(cfg)
	if err != nil {
		t.Fatalf("newSubscription(websocket) failed: %v", err)
	}
	if ws, ok := sub.(*source.WebSocket); !ok || ws.URL != cfg.Source.URL {
		t.Errorf("websocket subscription = %#v", sub)
	}

	cfg.Source.Type = config.SourceReplay
	cfg.Source.Dir = t.TempDir()
	if sub, err = newSubscription(cfg); err != nil {
		t.Fatalf("newSubscription(replay) failed: %v", err)
	}
	if r, ok := sub.(*source.Replay); !ok || r.Dir != cfg.Source.Dir {
		t.Errorf("replay subscription = %#v", sub)
	}

	cfg.Source.Type = "bogus"
	if _, err := newSubscription(cfg); err == nil {
		t.Error("newSubscription(bogus) succeeded, want error")
	}
}

func TestStatusRecorderReportsChange(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	var seen []*db.SourceStatus
	rec := &statusRecorder{store: store, onChange: func(s *db.SourceStatus) { seen = append(seen, s) }}
	if err := rec.RecordStatus(context.Background(), "vc1", "v1", nil); err != nil {
		t.Fatalf("RecordStatus() failed: %v", err)
	}
	if err := rec.RecordStatus(context.Background(), "vc1", "v1", errors.New("reset")); err != nil {
		t.Fatalf("RecordStatus() failed: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("onChange called %d times, want 2", len(seen))
	}
	if !seen[0].Healthy() || seen[1].Healthy() {
		t.Errorf("health = %v, %v; want true, false", seen[0].Healthy(), seen[1].Healthy())
	}
}

func TestSyncCommandPersistsMemoryBaseline(t *testing.T) {
	dir := t.TempDir()
	snapshots := []schema.ObjectSnapshot{
		{Object: schema.Identity{Type: "HostSystem", Ref: "host-1"}, Properties: map[string]any{"name": "esx-01"}},
		{Object: schema.Identity{Type: "VirtualMachine", Ref: "vm-1"}, Properties: map[string]any{
			"name":    "web-01",
			"config":  map[string]any{"uuid": "U1"},
			"runtime": map[string]any{"powerState": "poweredOn", "host": map[string]any{"type": "HostSystem", "value": "host-1"}},
		}},
	}
	data, err := json.Marshal(snapshots)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, source.BaselineFile), data, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	storePath := filepath.Join(dir, "out", "inventory.db")
	cfgPath := filepath.Join(dir, "invsync.yaml")
	cfgYAML := "source:\n  name: lab\n  type: memory\n  dir: " + dir + "\nstore:\n  path: " + storePath + "\nlog:\n  quiet: true\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	rootCmd.SetArgs([]string{"--config", cfgPath, "sync", "--json"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	store, err := db.Open(storePath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	counts, err := store.CountRecords(context.Background())
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if counts["vm"].Live != 1 || counts["host"].Live != 1 {
		t.Errorf("counts = %+v, want one live vm and host", counts)
	}

	st, err := store.GetSourceStatus(context.Background(), "lab")
	if err != nil {
		t.Fatalf("GetSourceStatus() failed: %v", err)
	}
	if st.LastVersion != "memory" || !st.Healthy() {
		t.Errorf("status = %+v, want healthy at version memory", st)
	}
}
