package cache

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/steveyegge/invsync/internal/inventory/changes"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

var vm1 = schema.Identity{Type: "VirtualMachine", Ref: "vm-1"}

func nameChange(name string) []schema.PropertyChange {
	return []schema.PropertyChange{{Path: "name", Op: schema.OpAssign, Value: name}}
}

func TestInsertGet(t *testing.T) {
	c := New()
	tree, err := c.Insert(vm1, nameChange("web01"))
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if tree["name"] != "web01" {
		t.Errorf("name = %v", tree["name"])
	}
	if got := c.Get(vm1); got["name"] != "web01" {
		t.Errorf("Get() = %v", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestInsertReplacesExisting(t *testing.T) {
	c := New()
	_, _ = c.Insert(vm1, []schema.PropertyChange{
		{Path: "name", Op: schema.OpAssign, Value: "a"},
		{Path: "stale", Op: schema.OpAssign, Value: true},
	})
	_, _ = c.Insert(vm1, nameChange("b"))

	want := map[string]any{"name": "b"}
	if diff := cmp.Diff(want, c.Get(vm1)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestUpdateAccumulates(t *testing.T) {
	c := New()
	_, _ = c.Insert(vm1, nameChange("a"))
	tree, err := c.Update(vm1, []schema.PropertyChange{
		{Path: "runtime.powerState", Op: schema.OpAssign, Value: "poweredOn"},
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	want := map[string]any{"name": "a", "runtime": map[string]any{"powerState": "poweredOn"}}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteEvictsAndUpdateDoesNotResurrect(t *testing.T) {
	c := New()
	_, _ = c.Insert(vm1, nameChange("a"))
	c.Delete(vm1)

	if got := c.Get(vm1); got != nil {
		t.Fatalf("Get() after Delete = %v, want nil", got)
	}

	tree, err := c.Update(vm1, nameChange("ghost"))
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if tree != nil {
		t.Errorf("Update() on evicted identity returned %v, want nil", tree)
	}
	if got := c.Get(vm1); got != nil {
		t.Errorf("evicted identity resurrected: %v", got)
	}

	// Idempotent delete
	c.Delete(vm1)
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestUpdateReportsMalformedPath(t *testing.T) {
	c := New()
	_, _ = c.Insert(vm1, nameChange("a"))
	tree, err := c.Update(vm1, []schema.PropertyChange{
		{Path: "broken[", Op: schema.OpAssign, Value: 1},
		{Path: "name", Op: schema.OpAssign, Value: "b"},
	})
	if !errors.Is(err, changes.ErrMalformedPath) {
		t.Fatalf("error = %v, want ErrMalformedPath", err)
	}
	if tree["name"] != "b" {
		t.Errorf("valid change not applied: name = %v", tree["name"])
	}
}

func TestKeysAndTypes(t *testing.T) {
	c := New()
	for _, ref := range []string{"vm-3", "vm-1", "vm-2"} {
		_, _ = c.Insert(schema.Identity{Type: "VirtualMachine", Ref: ref}, nil)
	}
	_, _ = c.Insert(schema.Identity{Type: "HostSystem", Ref: "host-1"}, nil)

	if diff := cmp.Diff([]string{"vm-1", "vm-2", "vm-3"}, c.Keys("VirtualMachine")); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"HostSystem", "VirtualMachine"}, c.Types()); diff != "" {
		t.Errorf("Types mismatch (-want +got):\n%s", diff)
	}
	if len(c.Keys("Datastore")) != 0 {
		t.Error("Keys for unknown type should be empty")
	}

	c.Reset()
	if c.Len() != 0 || len(c.Types()) != 0 {
		t.Error("Reset() did not clear cache")
	}
}
