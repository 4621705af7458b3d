package graph

import (
	"fmt"
	"sync"
)

// Mapper builds records from one object's cumulative tree.
//
// The first returned record is the primary record; its Type and ID default to
// the registered record type and the object's identity. Any further records
// are children and are owned by the primary record unless they set Owner.
type Mapper func(obj Object) ([]*Record, error)

type registration struct {
	recordType string
	mapper     Mapper
}

// Registry maps remote object types to mappers. It is populated at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register installs the mapper for objectType.
// It panics on a nil mapper or a duplicate registration.
func (r *Registry) Register(objectType, recordType string, mapper Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mapper == nil {
		panic(fmt.Sprintf("graph: Register mapper is nil for type %s", objectType))
	}
	if recordType == "" {
		panic(fmt.Sprintf("graph: Register record type is empty for type %s", objectType))
	}
	if _, exists := r.entries[objectType]; exists {
		panic(fmt.Sprintf("graph: Register called twice for type %s", objectType))
	}

	r.entries[objectType] = registration{recordType: recordType, mapper: mapper}
	r.order = append(r.order, objectType)
}

// Lookup returns the mapper for objectType.
func (r *Registry) Lookup(objectType string) (Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[objectType]
	return reg.mapper, ok
}

// RecordType returns the record type objectType maps to, or "".
func (r *Registry) RecordType(objectType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[objectType].recordType
}

// ObjectTypesOf returns the object types that map to recordType, in
// registration order.
func (r *Registry) ObjectTypesOf(recordType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, objectType := range r.order {
		if r.entries[objectType].recordType == recordType {
			out = append(out, objectType)
		}
	}
	return out
}

// ObjectTypes returns the registered object types in registration order.
func (r *Registry) ObjectTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
