package graph

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/steveyegge/invsync/internal/inventory/changes"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Ref is a lazy reference to another record.
type Ref struct {
	// Type is the target record type, e.g. "host"
	Type string `json:"type"`
	// ID is the target's identity
	ID schema.Identity `json:"id"`
	// Untyped is set when the object type was assumed from a bare ref string.
	// Such a ref may resolve to any object type sharing the record type.
	Untyped bool `json:"untyped,omitempty"`
}

// Key identifies the referenced record within a pass.
func (r Ref) Key() string {
	return r.Type + "|" + r.ID.String()
}

// IsZero reports whether the ref names nothing.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID.IsZero()
}

func (r Ref) String() string {
	return r.Type + "/" + r.ID.String()
}

// Relation is a named lazy reference. Multi-valued relations (datastores,
// networks) use the same name several times, in order.
type Relation struct {
	Name   string `json:"name"`
	Target Ref    `json:"target"`
}

// Record is one normalized inventory entity.
type Record struct {
	// Type is the record type, e.g. "vm" or "vm_disk"
	Type string
	// ID is the identity of the record; for primary records this is the
	// remote object's identity
	ID schema.Identity
	// UID is an optional secondary identity, e.g. a hardware UUID
	UID string
	// Name is the display name
	Name string
	// Attributes holds the mapped scalar fields
	Attributes map[string]any
	// Relations to other records, resolved at persist time
	Relations []Relation
	// Owner is set on child records
	Owner *Ref
}

// NewRecord creates a record with an empty attribute map.
func NewRecord(recordType string, id schema.Identity) *Record {
	return &Record{Type: recordType, ID: id, Attributes: make(map[string]any)}
}

// Ref returns a reference to this record.
func (r *Record) Ref() Ref {
	return Ref{Type: r.Type, ID: r.ID}
}

// Key identifies the record within a pass.
func (r *Record) Key() string {
	return r.Ref().Key()
}

// Set stores an attribute.
func (r *Record) Set(name string, value any) *Record {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	r.Attributes[name] = value
	return r
}

// Relate appends a relation. Zero refs are ignored.
func (r *Record) Relate(name string, target Ref) *Record {
	if target.IsZero() {
		return r
	}
	r.Relations = append(r.Relations, Relation{Name: name, Target: target})
	return r
}

// RelateAll appends one relation per target.
func (r *Record) RelateAll(name string, targets []Ref) *Record {
	for _, t := range targets {
		r.Relate(name, t)
	}
	return r
}

// Child creates a record owned by r.
func (r *Record) Child(recordType, key string) *Record {
	owner := r.Ref()
	child := NewRecord(recordType, schema.Identity{Type: recordType, Ref: r.ID.Ref + "/" + key})
	child.Owner = &owner
	return child
}

// Object is the input of a Mapper: an identity and its cumulative tree.
type Object struct {
	ID   schema.Identity
	Tree map[string]any

	registry *Registry
}

// NewObject wraps a tree for mapping. The registry, when given, is used to
// derive record types of references.
func NewObject(id schema.Identity, tree map[string]any, registry *Registry) Object {
	return Object{ID: id, Tree: tree, registry: registry}
}

// Value returns the raw value at path.
func (o Object) Value(path string) (any, bool) {
	v, ok, err := changes.Lookup(o.Tree, path)
	if err != nil || !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the string at path, or def when absent or not a string.
func (o Object) String(path, def string) string {
	v, ok := o.Value(path)
	if !ok {
		return def
	}
	return AsString(v, def)
}

// Bool returns the bool at path, or def.
func (o Object) Bool(path string, def bool) bool {
	v, ok := o.Value(path)
	if !ok {
		return def
	}
	return AsBool(v, def)
}

// Int returns the integer at path, or def.
func (o Object) Int(path string, def int64) int64 {
	v, ok := o.Value(path)
	if !ok {
		return def
	}
	return AsInt(v, def)
}

// Float returns the number at path, or def.
func (o Object) Float(path string, def float64) float64 {
	v, ok := o.Value(path)
	if !ok {
		return def
	}
	return AsFloat(v, def)
}

// Slice returns the array at path, or nil.
func (o Object) Slice(path string) []any {
	v, ok := o.Value(path)
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}

// Map returns the map at path, or nil.
func (o Object) Map(path string) map[string]any {
	v, ok := o.Value(path)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// Ref reads a reference at path. See RefOf for the accepted shapes.
func (o Object) Ref(path, defaultObjectType string) Ref {
	v, ok := o.Value(path)
	if !ok {
		return Ref{}
	}
	return o.RefOf(v, defaultObjectType)
}

// Refs reads an array of references at path.
func (o Object) Refs(path, defaultObjectType string) []Ref {
	var refs []Ref
	for _, v := range o.Slice(path) {
		if r := o.RefOf(v, defaultObjectType); !r.IsZero() {
			refs = append(refs, r)
		}
	}
	return refs
}

// RefOf converts a raw reference value into a Ref. It accepts a bare ref
// string (typed as defaultObjectType) or a {"type": ..., "value": ...} map.
// The record type comes from the registry; unregistered targets keep an
// empty record type and will resolve to null.
func (o Object) RefOf(v any, defaultObjectType string) Ref {
	id := schema.Identity{Type: defaultObjectType}
	untyped := false
	switch t := v.(type) {
	case string:
		id.Ref = t
		untyped = true
	case map[string]any:
		if typ, ok := t["type"].(string); ok && typ != "" {
			id.Type = typ
		}
		id.Ref = AsString(t["value"], "")
	default:
		return Ref{}
	}
	if id.Ref == "" || id.Type == "" {
		return Ref{}
	}
	recordType := ""
	if o.registry != nil {
		recordType = o.registry.RecordType(id.Type)
	}
	return Ref{Type: recordType, ID: id, Untyped: untyped}
}

// AsString converts scalar values to string; def is returned for maps/slices/nil.
func AsString(v any, def string) string {
	switch t := v.(type) {
	case string:
		return t
	case nil, map[string]any, []any:
		return def
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// AsBool converts bools and "true"/"false" strings.
func AsBool(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// AsFloat converts numeric values and numeric strings.
func AsFloat(v any, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// AsInt converts the numeric shapes a decoded property can take.
func AsInt(v any, def int64) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return def
}
