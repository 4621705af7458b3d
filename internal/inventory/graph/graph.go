package graph

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Mode selects how a pass prunes the store.
type Mode string

const (
	// ModeFull prunes unseen records of every mentioned object type.
	ModeFull Mode = "full"
	// ModeTargeted only removes identities that left during the pass.
	ModeTargeted Mode = "targeted"
)

// Scope is what one pass said about one object type.
type Scope struct {
	// RecordType is the record type the object type maps to
	RecordType string
	Seen       map[string]struct{}
	Removed    map[string]struct{}
}

func newScope(recordType string) *Scope {
	return &Scope{
		RecordType: recordType,
		Seen:       make(map[string]struct{}),
		Removed:    make(map[string]struct{}),
	}
}

// HasSeen reports whether ref entered or was modified in the pass.
func (s *Scope) HasSeen(ref string) bool {
	_, ok := s.Seen[ref]
	return ok
}

// HasRemoved reports whether ref left during the pass.
func (s *Scope) HasRemoved(ref string) bool {
	_, ok := s.Removed[ref]
	return ok
}

// SortedRemoved returns the removed refs in sorted order.
func (s *Scope) SortedRemoved() []string {
	out := make([]string, 0, len(s.Removed))
	for ref := range s.Removed {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// Graph is the output of one pass: the records it built plus its scope.
// Once sealed it is immutable and may be read from another goroutine.
type Graph struct {
	ID        string
	Mode      Mode
	Source    string
	Version   string
	CreatedAt time.Time

	records  map[string]map[string]*Record // record type -> identity -> record
	index    map[string]*Record            // record key -> record
	children map[string][]string           // owner key -> child keys
	scopes   map[string]*Scope             // object type -> scope
	registry *Registry                     // for untyped refs; may be nil
	sealed   bool
}

// New creates an empty, unsealed graph.
func New(mode Mode, source string) *Graph {
	return &Graph{
		ID:        uuid.NewString(),
		Mode:      mode,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		records:   make(map[string]map[string]*Record),
		index:     make(map[string]*Record),
		children:  make(map[string][]string),
		scopes:    make(map[string]*Scope),
	}
}

// Sealed reports whether the graph has been handed off.
func (g *Graph) Sealed() bool {
	return g.sealed
}

// Seal freezes the graph.
func (g *Graph) Seal(version string) {
	if g.sealed {
		return
	}
	g.Version = version
	g.sealed = true
}

// Record returns the record of recordType with identity id, if built.
func (g *Graph) Record(recordType string, id schema.Identity) *Record {
	return g.records[recordType][id.String()]
}

// Lookup returns the record a ref points at, if built in this pass.
func (g *Graph) Lookup(ref Ref) *Record {
	return g.Record(ref.Type, ref.ID)
}

// Len returns the number of records in the graph.
func (g *Graph) Len() int {
	n := 0
	for _, byID := range g.records {
		n += len(byID)
	}
	return n
}

// Records returns every record sorted by type then identity.
func (g *Graph) Records() []*Record {
	return g.sorted(func(*Record) bool { return true })
}

// Primaries returns the primary records sorted by type then identity.
func (g *Graph) Primaries() []*Record {
	return g.sorted(func(r *Record) bool { return r.Owner == nil })
}

// Children returns the child records sorted by type then identity.
func (g *Graph) Children() []*Record {
	return g.sorted(func(r *Record) bool { return r.Owner != nil })
}

// ChildrenOf returns the children built for owner.
func (g *Graph) ChildrenOf(owner Ref) []*Record {
	var out []*Record
	for _, key := range g.children[owner.Key()] {
		if r := g.byKey(key); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Scope returns the scope of objectType, or nil when the pass never
// mentioned it.
func (g *Graph) Scope(objectType string) *Scope {
	return g.scopes[objectType]
}

// ObjectTypes returns the mentioned object types in sorted order.
func (g *Graph) ObjectTypes() []string {
	out := make([]string, 0, len(g.scopes))
	for t := range g.scopes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) sorted(keep func(*Record) bool) []*Record {
	var out []*Record
	for _, byID := range g.records {
		for _, r := range byID {
			if keep(r) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (g *Graph) byKey(key string) *Record {
	return g.index[key]
}

func (g *Graph) scope(objectType, recordType string) *Scope {
	s, ok := g.scopes[objectType]
	if !ok {
		s = newScope(recordType)
		g.scopes[objectType] = s
	}
	return s
}

// put stores a primary record and its children, replacing whatever an
// earlier update in the same pass built for the same identity.
func (g *Graph) put(primary *Record, kids []*Record) {
	g.drop(primary.Ref())

	g.store(primary)
	keys := make([]string, 0, len(kids))
	for _, k := range kids {
		g.store(k)
		keys = append(keys, k.Key())
	}
	if len(keys) > 0 {
		g.children[primary.Key()] = keys
	}
}

// drop removes a primary record and its children.
func (g *Graph) drop(ref Ref) {
	for _, key := range g.children[ref.Key()] {
		if r := g.byKey(key); r != nil {
			delete(g.records[r.Type], r.ID.String())
			delete(g.index, key)
		}
	}
	delete(g.children, ref.Key())
	if byID, ok := g.records[ref.Type]; ok {
		delete(byID, ref.ID.String())
	}
	delete(g.index, ref.Key())
}

func (g *Graph) store(r *Record) {
	byID, ok := g.records[r.Type]
	if !ok {
		byID = make(map[string]*Record)
		g.records[r.Type] = byID
	}
	byID[r.ID.String()] = r
	g.index[r.Key()] = r
}
