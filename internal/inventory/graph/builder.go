package graph

import (
	"fmt"
	"io"
	"log"

	"github.com/steveyegge/invsync/internal/inventory/changes"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Builder extends the graph of the pass in progress, one update at a time.
// Like the cache it feeds from, it is owned by the synchronization loop.
type Builder struct {
	registry *Registry
	source   string
	logger   *log.Logger
	current  *Graph
}

// NewBuilder creates a builder for one remote source.
// If logger is nil, output is discarded.
func NewBuilder(registry *Registry, source string, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Builder{registry: registry, source: source, logger: logger}
}

// Registry returns the builder's mapper registry.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Begin starts a new pass, dropping any unfinished one.
func (b *Builder) Begin(mode Mode) *Graph {
	b.current = New(mode, b.source)
	b.current.registry = b.registry
	return b.current
}

// Current returns the graph of the pass in progress, or nil.
func (b *Builder) Current() *Graph {
	return b.current
}

// Add records one update in the current pass.
//
// leave marks the identity removed. enter and modify mark it seen and
// rebuild its records from the entire tree, since the tree already holds
// the cumulative state.
func (b *Builder) Add(id schema.Identity, kind schema.Kind, tree map[string]any) error {
	g := b.current
	if g == nil {
		return ErrNoPass
	}
	if g.sealed {
		return ErrSealed
	}

	mapper, ok := b.registry.Lookup(id.Type)
	if !ok {
		return &UnknownObjectTypeError{Identity: id, Kind: kind}
	}
	recordType := b.registry.RecordType(id.Type)
	scope := g.scope(id.Type, recordType)

	if kind == schema.KindLeave {
		delete(scope.Seen, id.Ref)
		scope.Removed[id.Ref] = struct{}{}
		g.drop(Ref{Type: recordType, ID: id})
		return nil
	}

	primary, kids, err := b.build(mapper, recordType, id, tree)
	if err != nil {
		return err
	}

	delete(scope.Removed, id.Ref)
	scope.Seen[id.Ref] = struct{}{}
	g.put(primary, kids)
	return nil
}

// build runs the mapper and normalizes its output.
func (b *Builder) build(mapper Mapper, recordType string, id schema.Identity, tree map[string]any) (*Record, []*Record, error) {
	records, err := mapper(NewObject(id, tree, b.registry))
	if err != nil {
		return nil, nil, &MapError{Identity: id, Err: err}
	}
	if len(records) == 0 || records[0] == nil {
		return nil, nil, &MapError{Identity: id, Err: fmt.Errorf("mapper returned no primary record")}
	}

	primary := records[0]
	if primary.Type == "" {
		primary.Type = recordType
	}
	if primary.ID.IsZero() {
		primary.ID = id
	}
	primary.Owner = nil
	detach(primary)

	owner := primary.Ref()
	kids := make([]*Record, 0, len(records)-1)
	for _, child := range records[1:] {
		if child == nil {
			continue
		}
		if child.Type == "" || child.ID.Ref == "" {
			b.logger.Printf("Warning: %s produced a child without type or id, skipping", id)
			continue
		}
		if child.Owner == nil {
			child.Owner = &owner
		}
		detach(child)
		kids = append(kids, child)
	}

	return primary, kids, nil
}

// Finish seals the current pass and hands it off. The builder keeps no
// reference to the returned graph.
func (b *Builder) Finish(version string) *Graph {
	g := b.current
	if g == nil {
		return nil
	}
	g.Seal(version)
	b.current = nil
	return g
}

// Discard drops the current pass.
func (b *Builder) Discard() {
	b.current = nil
}

// detach copies attribute values so a record shares nothing with the cache
// tree it was built from.
func detach(r *Record) {
	for k, v := range r.Attributes {
		r.Attributes[k] = changes.Clone(v)
	}
}
