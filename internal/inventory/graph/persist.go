package graph

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// StoredRecord is the persisted view of a record needed for matching.
type StoredRecord struct {
	ID         int64
	Type       string
	Identity   schema.Identity
	UID        string
	OwnerID    int64
	CreatedAt  time.Time
	ArchivedAt *time.Time
}

// Live reports whether the record is connected to the remote inventory.
func (s *StoredRecord) Live() bool {
	return s.ArchivedAt == nil
}

// ResolvedRelation is a relation with its target row, or TargetID 0 for a
// null relation.
type ResolvedRelation struct {
	Name     string
	Position int
	Target   Ref
	TargetID int64
}

// Tx is the set of store operations one pass needs. Implementations must
// make the pass visible to readers only on Commit.
type Tx interface {
	// FindRecord returns the record of recordType with identity id, live or
	// archived, or nil when none exists.
	FindRecord(ctx context.Context, recordType string, id schema.Identity) (*StoredRecord, error)
	// FindLive is FindRecord restricted to live records.
	FindLive(ctx context.Context, recordType string, id schema.Identity) (*StoredRecord, error)
	// FindDisconnected returns archived records of recordType sharing uid,
	// ordered by creation time and then row id.
	FindDisconnected(ctx context.Context, recordType, uid string) ([]*StoredRecord, error)
	// ListLive returns the live primary records of recordType whose identity
	// has the given object type.
	ListLive(ctx context.Context, recordType, objectType string) ([]*StoredRecord, error)
	// ListChildren returns the records owned by ownerID.
	ListChildren(ctx context.Context, ownerID int64) ([]*StoredRecord, error)
	// Upsert writes rec. existingID 0 inserts; otherwise the row is updated
	// in place, taking rec's identity and clearing any archive mark.
	Upsert(ctx context.Context, existingID int64, rec *Record, ownerID int64) (int64, error)
	// SetRelations replaces the relations of recordID.
	SetRelations(ctx context.Context, recordID int64, relations []ResolvedRelation) error
	// Archive disconnects a record without deleting it.
	Archive(ctx context.Context, recordID int64) error
	// Delete removes a record and everything it owns.
	Delete(ctx context.Context, recordID int64) error

	Commit() error
	Rollback() error
}

// Store opens pass transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Reconnection records a live record reattached to a disconnected row.
type Reconnection struct {
	Record   Ref
	UID      string
	StoredID int64
	// Skipped lists other disconnected rows with the same UID that stay archived
	Skipped []int64
}

// PassResult summarizes what Persist changed.
type PassResult struct {
	Inserted     int
	Updated      int
	Archived     int
	Deleted      int
	Unresolved   int
	Reconnected  []Reconnection
	ChildrenGone int
}

// Persist applies the graph to store as one transaction.
//
// The graph must be sealed. On error the transaction is rolled back and the
// store keeps its previous state.
func (g *Graph) Persist(ctx context.Context, store Store) (result *PassResult, err error) {
	if !g.sealed {
		return nil, fmt.Errorf("persist pass %s: graph is not sealed", g.ID)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pass %s: %w", g.ID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p := &persister{g: g, tx: tx, rows: make(map[string]int64), result: &PassResult{}}

	// Removals run first so that rows leaving in this pass are already
	// disconnected when an entering record looks for a reconnection match.
	if err := p.removeScoped(ctx); err != nil {
		return nil, err
	}
	if err := p.upsertPrimaries(ctx); err != nil {
		return nil, err
	}
	if err := p.upsertChildren(ctx); err != nil {
		return nil, err
	}
	if err := p.resolveRelations(ctx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pass %s: %w", g.ID, err)
	}
	return p.result, nil
}

type persister struct {
	g      *Graph
	tx     Tx
	rows   map[string]int64 // record key -> row id, for records of this pass
	result *PassResult
}

func (p *persister) upsertPrimaries(ctx context.Context) error {
	for _, rec := range p.g.Primaries() {
		existing, err := p.tx.FindRecord(ctx, rec.Type, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", rec.Ref(), err)
		}

		if existing == nil && rec.UID != "" {
			existing, err = p.reconnect(ctx, rec)
			if err != nil {
				return err
			}
		}

		id, err := p.write(ctx, existing, rec, 0)
		if err != nil {
			return err
		}
		p.rows[rec.Key()] = id
	}
	return nil
}

// reconnect picks the earliest-created disconnected row sharing rec's UID.
func (p *persister) reconnect(ctx context.Context, rec *Record) (*StoredRecord, error) {
	candidates, err := p.tx.FindDisconnected(ctx, rec.Type, rec.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to find disconnected %s with uid %s: %w", rec.Type, rec.UID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	chosen := candidates[0]
	for _, c := range candidates[1:] {
		if c.CreatedAt.Before(chosen.CreatedAt) || (c.CreatedAt.Equal(chosen.CreatedAt) && c.ID < chosen.ID) {
			chosen = c
		}
	}

	rc := Reconnection{Record: rec.Ref(), UID: rec.UID, StoredID: chosen.ID}
	for _, c := range candidates {
		if c.ID != chosen.ID {
			rc.Skipped = append(rc.Skipped, c.ID)
		}
	}
	p.result.Reconnected = append(p.result.Reconnected, rc)
	return chosen, nil
}

func (p *persister) write(ctx context.Context, existing *StoredRecord, rec *Record, ownerID int64) (int64, error) {
	var existingID int64
	if existing != nil {
		existingID = existing.ID
	}
	id, err := p.tx.Upsert(ctx, existingID, rec, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s: %w", rec.Ref(), err)
	}
	if existing == nil {
		p.result.Inserted++
	} else {
		p.result.Updated++
	}
	return id, nil
}

// upsertChildren writes the children of every seen owner and deletes the
// stored children the pass no longer produced.
func (p *persister) upsertChildren(ctx context.Context) error {
	for _, owner := range p.g.Primaries() {
		ownerID := p.rows[owner.Key()]
		keep := make(map[int64]bool)

		for _, child := range p.g.ChildrenOf(owner.Ref()) {
			existing, err := p.tx.FindRecord(ctx, child.Type, child.ID)
			if err != nil {
				return fmt.Errorf("failed to look up %s: %w", child.Ref(), err)
			}
			id, err := p.write(ctx, existing, child, ownerID)
			if err != nil {
				return err
			}
			p.rows[child.Key()] = id
			keep[id] = true
		}

		stored, err := p.tx.ListChildren(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("failed to list children of %s: %w", owner.Ref(), err)
		}
		for _, s := range stored {
			if keep[s.ID] {
				continue
			}
			if err := p.tx.Delete(ctx, s.ID); err != nil {
				return fmt.Errorf("failed to delete stale child %s: %w", s.Identity, err)
			}
			p.result.ChildrenGone++
		}
	}
	return nil
}

// resolveRelations maps every lazy reference to a row: this pass first, then
// live stored records. Missing targets become null relations.
func (p *persister) resolveRelations(ctx context.Context) error {
	records := append(p.g.Primaries(), p.g.Children()...)
	for _, rec := range records {
		resolved := make([]ResolvedRelation, 0, len(rec.Relations))
		positions := make(map[string]int)

		for _, rel := range rec.Relations {
			target, targetID, err := p.resolveAny(ctx, rel.Target)
			if err != nil {
				return err
			}
			if targetID == 0 {
				p.result.Unresolved++
			}
			resolved = append(resolved, ResolvedRelation{
				Name:     rel.Name,
				Position: positions[rel.Name],
				Target:   target,
				TargetID: targetID,
			})
			positions[rel.Name]++
		}

		if err := p.tx.SetRelations(ctx, p.rows[rec.Key()], resolved); err != nil {
			return fmt.Errorf("failed to write relations of %s: %w", rec.Ref(), err)
		}
	}
	return nil
}

// resolveAny resolves target and, for an untyped ref that misses, the same
// ref under each other object type of its record type. It returns the ref
// that matched, or target itself when none did.
func (p *persister) resolveAny(ctx context.Context, target Ref) (Ref, int64, error) {
	id, err := p.resolve(ctx, target)
	if err != nil || id != 0 || !target.Untyped || p.g.registry == nil {
		return target, id, err
	}
	for _, objectType := range p.g.registry.ObjectTypesOf(target.Type) {
		if objectType == target.ID.Type {
			continue
		}
		alt := Ref{Type: target.Type, ID: schema.Identity{Type: objectType, Ref: target.ID.Ref}}
		id, err := p.resolve(ctx, alt)
		if err != nil {
			return target, 0, err
		}
		if id != 0 {
			return alt, id, nil
		}
	}
	return target, 0, nil
}

func (p *persister) resolve(ctx context.Context, target Ref) (int64, error) {
	if id, ok := p.rows[target.Key()]; ok {
		return id, nil
	}
	if target.Type == "" {
		return 0, nil
	}
	stored, err := p.tx.FindLive(ctx, target.Type, target.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	if stored == nil {
		return 0, nil
	}
	return stored.ID, nil
}

// removeScoped removes what the pass said has left, and in a full pass
// everything of a mentioned type that it did not see.
func (p *persister) removeScoped(ctx context.Context) error {
	for _, objectType := range p.g.ObjectTypes() {
		scope := p.g.Scope(objectType)

		for _, ref := range scope.SortedRemoved() {
			stored, err := p.tx.FindRecord(ctx, scope.RecordType, schema.Identity{Type: objectType, Ref: ref})
			if err != nil {
				return fmt.Errorf("failed to look up removed %s:%s: %w", objectType, ref, err)
			}
			if stored != nil {
				if err := p.remove(ctx, stored); err != nil {
					return err
				}
			}
		}

		if p.g.Mode != ModeFull {
			continue
		}

		live, err := p.tx.ListLive(ctx, scope.RecordType, objectType)
		if err != nil {
			return fmt.Errorf("failed to list live %s: %w", objectType, err)
		}
		for _, stored := range live {
			ref := stored.Identity.Ref
			if scope.HasSeen(ref) || scope.HasRemoved(ref) {
				continue
			}
			if err := p.remove(ctx, stored); err != nil {
				return err
			}
		}
	}
	return nil
}

// remove archives records with a secondary identity and deletes the rest.
func (p *persister) remove(ctx context.Context, stored *StoredRecord) error {
	if !stored.Live() {
		return nil
	}
	if stored.UID != "" {
		if err := p.tx.Archive(ctx, stored.ID); err != nil {
			return fmt.Errorf("failed to archive %s: %w", stored.Identity, err)
		}
		p.result.Archived++
		return nil
	}
	if err := p.tx.Delete(ctx, stored.ID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", stored.Identity, err)
	}
	p.result.Deleted++
	return nil
}

// Job binds a sealed graph to the store it will be persisted into.
type Job struct {
	graph  *Graph
	store  Store
	logger *log.Logger
	result *PassResult
}

// NewJob creates a persistence job. If logger is nil, output is discarded.
func NewJob(g *Graph, store Store, logger *log.Logger) *Job {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Job{graph: g, store: store, logger: logger}
}

// ID returns the pass id.
func (j *Job) ID() string {
	return j.graph.ID
}

// Graph returns the pass being persisted.
func (j *Job) Graph() *Graph {
	return j.graph
}

// Result returns the outcome of a successful Persist, or nil.
func (j *Job) Result() *PassResult {
	return j.result
}

// Persist applies the pass to the store.
func (j *Job) Persist(ctx context.Context) error {
	start := time.Now()
	result, err := j.graph.Persist(ctx, j.store)
	if err != nil {
		return err
	}
	j.result = result

	for _, rc := range result.Reconnected {
		j.logger.Printf("Reconnected %s to stored record %d (uid %s, %d left disconnected)",
			rc.Record, rc.StoredID, rc.UID, len(rc.Skipped))
	}
	j.logger.Printf("Persisted %s pass %s (version %s): inserted=%d updated=%d archived=%d deleted=%d unresolved=%d in %v",
		j.graph.Mode, j.graph.ID, j.graph.Version, result.Inserted, result.Updated,
		result.Archived, result.Deleted, result.Unresolved, time.Since(start).Round(time.Millisecond))
	return nil
}
