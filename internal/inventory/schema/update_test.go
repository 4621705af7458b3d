package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIdentityValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{"valid", Identity{Type: "VirtualMachine", Ref: "vm-1"}, false},
		{"missing type", Identity{Ref: "vm-1"}, true},
		{"missing ref", Identity{Type: "VirtualMachine"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObjectUpdateValidate(t *testing.T) {
	ok := ObjectUpdate{
		Object:  Identity{Type: "HostSystem", Ref: "host-1"},
		Kind:    KindModify,
		Changes: []PropertyChange{{Path: "name", Op: OpAssign, Value: "esx01"}},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	badKind := ok
	badKind.Kind = "vanish"
	if err := badKind.Validate(); err == nil {
		t.Error("expected error for invalid kind")
	}

	// Unknown ops are rejected per change by changes.Apply, not per update.
	unknownOp := ok
	unknownOp.Changes = []PropertyChange{{Path: "name", Op: "replace"}}
	if err := unknownOp.Validate(); err != nil {
		t.Errorf("Validate() with unknown op = %v, want nil", err)
	}
}

func TestSnapshotToUpdate(t *testing.T) {
	snap := ObjectSnapshot{
		Object: Identity{Type: "Datastore", Ref: "ds-1"},
		Properties: map[string]any{
			"summary": map[string]any{"capacity": 100},
			"name":    "local",
		},
	}

	u := snap.ToUpdate()
	if u.Kind != KindEnter {
		t.Errorf("Kind = %q, want enter", u.Kind)
	}
	if len(u.Changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(u.Changes))
	}
	// Sorted key order
	if u.Changes[0].Path != "name" || u.Changes[1].Path != "summary" {
		t.Errorf("paths = %q, %q; want name, summary", u.Changes[0].Path, u.Changes[1].Path)
	}
	for _, c := range u.Changes {
		if c.Op != OpAssign {
			t.Errorf("op = %q, want assign", c.Op)
		}
	}
}

func TestBatchFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	batch := &UpdateBatch{
		Entries: []ObjectUpdate{{
			Object: Identity{Type: "VirtualMachine", Ref: "vm-1"},
			Kind:   KindLeave,
		}},
	}

	if err := WriteBatchFile(dir, "0001.json", batch); err != nil {
		t.Fatalf("WriteBatchFile() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "0001.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	got, err := ReadBatchFile(filepath.Join(dir, "0001.json"))
	if err != nil {
		t.Fatalf("ReadBatchFile() failed: %v", err)
	}
	if got.Version != "0001" {
		t.Errorf("Version = %q, want version derived from filename", got.Version)
	}
	if len(got.Entries) != 1 || got.Entries[0].Kind != KindLeave {
		t.Errorf("unexpected entries: %+v", got.Entries)
	}
}

func TestReadSnapshotFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := os.WriteFile(path, []byte(`[{"object":{"type":"Folder"},"properties":{}}]`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshotFile(path); err == nil {
		t.Error("expected error for snapshot without ref")
	}
}
