package loadtest

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Workload is a synthetic inventory and the update stream applied to it.
type Workload struct {
	Baseline []schema.ObjectSnapshot
	Batches  []*schema.UpdateBatch
	// LiveVMs is the number of VMs present after the last batch
	LiveVMs int
	// LiveDisks is the number of disks not archived after the last batch.
	// Archived VMs keep their disks, so this counts every VM ever created.
	LiveDisks int
}

// Generate builds a deterministic workload.
//
// The baseline holds cfg.Hosts hosts, cfg.Datastores datastores and cfg.VMs
// VMs, each VM with one disk on a datastore and placed on a host. Every batch
// modifies cfg.ChangesPerBatch random VMs (power state and memory). Every
// fifth batch also retires one VM and creates a replacement.
func Generate(cfg *Config) *Workload {
	rng := rand.New(rand.NewSource(cfg.Seed))
	w := &Workload{}

	for i := 0; i < cfg.Hosts; i++ {
		w.Baseline = append(w.Baseline, hostSnapshot(i))
	}
	for i := 0; i < cfg.Datastores; i++ {
		w.Baseline = append(w.Baseline, datastoreSnapshot(i))
	}

	live := make([]int, 0, cfg.VMs)
	for i := 0; i < cfg.VMs; i++ {
		w.Baseline = append(w.Baseline, vmSnapshot(cfg, i))
		live = append(live, i)
	}
	next := cfg.VMs

	for b := 0; b < cfg.Batches; b++ {
		batch := &schema.UpdateBatch{Version: fmt.Sprintf("lt-%d", b+1)}

		if b%5 == 4 && len(live) > 1 {
			idx := rng.Intn(len(live))
			gone := live[idx]
			live = append(live[:idx], live[idx+1:]...)
			batch.Entries = append(batch.Entries, schema.ObjectUpdate{
				Object: vmIdentity(gone),
				Kind:   schema.KindLeave,
			})
			batch.Entries = append(batch.Entries, vmSnapshot(cfg, next).ToUpdate())
			live = append(live, next)
			next++
		}

		for c := 0; c < cfg.ChangesPerBatch && len(live) > 0; c++ {
			vm := live[rng.Intn(len(live))]
			power := "poweredOn"
			if rng.Intn(2) == 0 {
				power = "poweredOff"
			}
			batch.Entries = append(batch.Entries, schema.ObjectUpdate{
				Object: vmIdentity(vm),
				Kind:   schema.KindModify,
				Changes: []schema.PropertyChange{
					{Path: "runtime.powerState", Op: schema.OpAssign, Value: power},
					{Path: "config.hardware.memoryMB", Op: schema.OpAssign, Value: 1024 * (1 + rng.Intn(16))},
				},
			})
		}
		w.Batches = append(w.Batches, batch)
	}

	w.LiveVMs = len(live)
	w.LiveDisks = next
	return w
}

func vmIdentity(i int) schema.Identity {
	return schema.Identity{Type: "VirtualMachine", Ref: fmt.Sprintf("vm-%d", i)}
}

func hostSnapshot(i int) schema.ObjectSnapshot {
	ref := fmt.Sprintf("host-%d", i)
	return schema.ObjectSnapshot{
		Object: schema.Identity{Type: "HostSystem", Ref: ref},
		Properties: map[string]any{
			"name": fmt.Sprintf("esx-%03d.lab", i),
			"hardware": map[string]any{
				"systemInfo": map[string]any{"uuid": stableUID(ref)},
			},
			"runtime": map[string]any{"powerState": "poweredOn", "inMaintenanceMode": false},
		},
	}
}

func datastoreSnapshot(i int) schema.ObjectSnapshot {
	return schema.ObjectSnapshot{
		Object: schema.Identity{Type: "Datastore", Ref: fmt.Sprintf("datastore-%d", i)},
		Properties: map[string]any{
			"name": fmt.Sprintf("ds-%03d", i),
		},
	}
}

func vmSnapshot(cfg *Config, i int) schema.ObjectSnapshot {
	id := vmIdentity(i)
	ds := fmt.Sprintf("datastore-%d", i%max(cfg.Datastores, 1))
	name := fmt.Sprintf("vm-%05d", i)
	return schema.ObjectSnapshot{
		Object: id,
		Properties: map[string]any{
			"name": name,
			"config": map[string]any{
				"uuid":     stableUID(id.Ref),
				"template": false,
				"hardware": map[string]any{
					"numCPU":   2,
					"memoryMB": 4096,
					"device": []any{
						map[string]any{
							"key":          2000,
							"deviceInfo":   map[string]any{"label": "Hard disk 1"},
							"capacityInKB": 16 * 1024 * 1024,
							"backing": map[string]any{
								"fileName":  fmt.Sprintf("[ds-%s] %s/%s.vmdk", ds, name, name),
								"datastore": map[string]any{"type": "Datastore", "value": ds},
							},
						},
					},
				},
			},
			"runtime": map[string]any{
				"powerState": "poweredOn",
				"host":       map[string]any{"type": "HostSystem", "value": fmt.Sprintf("host-%d", i%max(cfg.Hosts, 1))},
			},
			"datastore": []any{map[string]any{"type": "Datastore", "value": ds}},
		},
	}
}

// stableUID derives a fixed UUID from a ref so reruns produce the same UIDs.
func stableUID(ref string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("invsync-loadtest/"+ref)).String()
}
