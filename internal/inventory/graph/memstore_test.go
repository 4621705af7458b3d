package graph

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// memRow is one stored record in memStore.
type memRow struct {
	stored    StoredRecord
	name      string
	attrs     map[string]any
	relations []ResolvedRelation
}

// memStore is an in-memory Store with snapshot transactions.
type memStore struct {
	rows   map[int64]*memRow
	nextID int64
	clock  time.Time
	// failUpsert makes the next transaction fail on its first Upsert
	failUpsert bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:  make(map[int64]*memRow),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	rows := make(map[int64]*memRow, len(s.rows))
	for id, r := range s.rows {
		cp := *r
		rows[id] = &cp
	}
	return &memTx{store: s, rows: rows, nextID: s.nextID}, nil
}

// seed inserts a row directly, for arranging test state.
func (s *memStore) seed(recordType string, id schema.Identity, uid string, createdAt time.Time, archived bool) int64 {
	s.nextID++
	r := &memRow{stored: StoredRecord{
		ID: s.nextID, Type: recordType, Identity: id, UID: uid, CreatedAt: createdAt,
	}}
	if archived {
		at := createdAt.Add(time.Minute)
		r.stored.ArchivedAt = &at
	}
	s.rows[r.stored.ID] = r
	return r.stored.ID
}

func (s *memStore) find(recordType string, id schema.Identity) *memRow {
	for _, r := range s.rows {
		if r.stored.Type == recordType && r.stored.Identity == id {
			return r
		}
	}
	return nil
}

func (s *memStore) live(recordType string) []*memRow {
	var out []*memRow
	for _, r := range s.rows {
		if r.stored.Type == recordType && r.stored.Live() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].stored.ID < out[j].stored.ID })
	return out
}

type memTx struct {
	store  *memStore
	rows   map[int64]*memRow
	nextID int64
	done   bool
}

func (t *memTx) FindRecord(ctx context.Context, recordType string, id schema.Identity) (*StoredRecord, error) {
	var match *StoredRecord
	for _, r := range t.rows {
		if r.stored.Type == recordType && r.stored.Identity == id {
			s := r.stored
			// Prefer live rows
			if match == nil || (s.Live() && !match.Live()) {
				match = &s
			}
		}
	}
	return match, nil
}

func (t *memTx) FindLive(ctx context.Context, recordType string, id schema.Identity) (*StoredRecord, error) {
	s, _ := t.FindRecord(ctx, recordType, id)
	if s == nil || !s.Live() {
		return nil, nil
	}
	return s, nil
}

func (t *memTx) FindDisconnected(ctx context.Context, recordType, uid string) ([]*StoredRecord, error) {
	var out []*StoredRecord
	for _, r := range t.rows {
		if r.stored.Type == recordType && r.stored.UID == uid && !r.stored.Live() {
			s := r.stored
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListLive(ctx context.Context, recordType, objectType string) ([]*StoredRecord, error) {
	var out []*StoredRecord
	for _, r := range t.rows {
		if r.stored.Type == recordType && r.stored.Identity.Type == objectType && r.stored.Live() && r.stored.OwnerID == 0 {
			s := r.stored
			out = append(out, &s)
		}
	}
	return out, nil
}

func (t *memTx) ListChildren(ctx context.Context, ownerID int64) ([]*StoredRecord, error) {
	var out []*StoredRecord
	for _, r := range t.rows {
		if r.stored.OwnerID == ownerID && ownerID != 0 {
			s := r.stored
			out = append(out, &s)
		}
	}
	return out, nil
}

func (t *memTx) Upsert(ctx context.Context, existingID int64, rec *Record, ownerID int64) (int64, error) {
	if t.store.failUpsert {
		return 0, errors.New("injected upsert failure")
	}
	if existingID == 0 {
		t.nextID++
		t.store.clock = t.store.clock.Add(time.Second)
		t.rows[t.nextID] = &memRow{stored: StoredRecord{ID: t.nextID, CreatedAt: t.store.clock}}
		existingID = t.nextID
	}
	r := t.rows[existingID]
	r.stored.Type = rec.Type
	r.stored.Identity = rec.ID
	r.stored.UID = rec.UID
	r.stored.OwnerID = ownerID
	r.stored.ArchivedAt = nil
	r.name = rec.Name
	r.attrs = rec.Attributes
	return existingID, nil
}

func (t *memTx) SetRelations(ctx context.Context, recordID int64, relations []ResolvedRelation) error {
	t.rows[recordID].relations = relations
	return nil
}

func (t *memTx) Archive(ctx context.Context, recordID int64) error {
	at := t.store.clock
	t.rows[recordID].stored.ArchivedAt = &at
	return nil
}

func (t *memTx) Delete(ctx context.Context, recordID int64) error {
	delete(t.rows, recordID)
	for id, r := range t.rows {
		if r.stored.OwnerID == recordID {
			delete(t.rows, id)
		}
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	t.store.rows = t.rows
	t.store.nextID = t.nextID
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}
