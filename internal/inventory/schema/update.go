// Package schema defines the wire shapes exchanged with a remote inventory source.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Identity is the stable handle of one remote object.
type Identity struct {
	// Type is the remote object type, e.g. "VirtualMachine"
	Type string `json:"type"`
	// Ref is the remote handle, e.g. "vm-17"
	Ref string `json:"ref"`
}

// String renders the identity as Type:Ref.
func (id Identity) String() string {
	return id.Type + ":" + id.Ref
}

// IsZero reports whether both parts are empty.
func (id Identity) IsZero() bool {
	return id.Type == "" && id.Ref == ""
}

// Validate checks that both parts are present.
func (id Identity) Validate() error {
	if id.Type == "" {
		return fmt.Errorf("identity type is required")
	}
	if id.Ref == "" {
		return fmt.Errorf("identity ref is required (type %s)", id.Type)
	}
	return nil
}

// Kind describes what an update says about an identity.
type Kind string

const (
	// KindEnter is the first full observation of an identity.
	KindEnter Kind = "enter"
	// KindModify is a delta against prior state.
	KindModify Kind = "modify"
	// KindLeave means the identity has left the inventory.
	KindLeave Kind = "leave"
)

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindEnter, KindModify, KindLeave:
		return true
	}
	return false
}

// Op is a property change operation.
type Op string

const (
	// OpAssign replaces the value at a path.
	OpAssign Op = "assign"
	// OpAdd appends a value to the array at a path.
	OpAdd Op = "add"
	// OpRemove deletes the element addressed by a path.
	OpRemove Op = "remove"
)

// IsValid reports whether op is one of the known operations.
func (op Op) IsValid() bool {
	switch op {
	case OpAssign, OpAdd, OpRemove:
		return true
	}
	return false
}

// PropertyChange is one path-addressed mutation of a property tree.
type PropertyChange struct {
	Path  string `json:"path"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// ObjectUpdate is everything one batch says about one identity.
type ObjectUpdate struct {
	Object  Identity         `json:"object"`
	Kind    Kind             `json:"kind"`
	Changes []PropertyChange `json:"changes,omitempty"`
}

// Validate checks the identity and kind. Changes are not checked here: an
// unknown op or malformed path fails only that change when it is applied.
func (u *ObjectUpdate) Validate() error {
	if err := u.Object.Validate(); err != nil {
		return err
	}
	if !u.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q for %s", u.Kind, u.Object)
	}
	return nil
}

// UpdateBatch is one delivery from the remote subscription.
// A truncated batch is continued by the next one.
type UpdateBatch struct {
	Version   string         `json:"version"`
	Truncated bool           `json:"truncated,omitempty"`
	Entries   []ObjectUpdate `json:"entries"`
}

// Validate checks every entry in the batch.
func (b *UpdateBatch) Validate() error {
	for i := range b.Entries {
		if err := b.Entries[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// ObjectSnapshot is the full observed state of one object, as returned by an
// enumeration of the remote inventory.
type ObjectSnapshot struct {
	Object     Identity       `json:"object"`
	Properties map[string]any `json:"properties"`
}

// ToUpdate converts the snapshot into a synthetic enter update with one
// assign per top-level property, in sorted key order.
func (s ObjectSnapshot) ToUpdate() ObjectUpdate {
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make([]PropertyChange, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, PropertyChange{Path: k, Op: OpAssign, Value: s.Properties[k]})
	}
	return ObjectUpdate{Object: s.Object, Kind: KindEnter, Changes: changes}
}

// SnapshotBatch builds the synthetic baseline batch from an enumeration.
func SnapshotBatch(version string, snapshots []ObjectSnapshot) *UpdateBatch {
	batch := &UpdateBatch{Version: version, Entries: make([]ObjectUpdate, 0, len(snapshots))}
	for _, s := range snapshots {
		batch.Entries = append(batch.Entries, s.ToUpdate())
	}
	return batch
}

// ReadBatchFile reads and validates an update batch JSON file.
func ReadBatchFile(path string) (*UpdateBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", path, err)
	}

	var batch UpdateBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}

	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch file %s: %w", path, err)
	}

	if batch.Version == "" {
		batch.Version = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &batch, nil
}

// WriteBatchFile writes a batch to dir/name as pretty-printed JSON.
func WriteBatchFile(dir, name string, batch *UpdateBatch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid batch: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s: %w", name, err)
	}

	// Write to a temp name first so a watcher never sees a partial file.
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write batch file %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename batch file %s: %w", path, err)
	}

	return nil
}

// ReadSnapshotFile reads a baseline enumeration: a JSON array of snapshots.
func ReadSnapshotFile(path string) ([]ObjectSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file %s: %w", path, err)
	}

	var snapshots []ObjectSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file %s: %w", path, err)
	}

	for i, s := range snapshots {
		if err := s.Object.Validate(); err != nil {
			return nil, fmt.Errorf("invalid snapshot %d in %s: %w", i, path, err)
		}
	}

	return snapshots, nil
}
