// Package graph turns cached property trees into normalized inventory records
// and applies one pass worth of records to a store.
//
// # Architecture
//
//	Property Cache (identity -> tree)
//	     ↓  Builder.Add(identity, kind, tree)
//	Registry (object type -> Mapper)
//	     ↓
//	Graph (records per type + targeted scope per object type)
//	     ↓  Builder.Finish() seals it
//	Job.Persist(ctx) -> Store.Begin -> one transaction
//
// Records never point at each other. A relation is a Ref naming the target's
// record type and identity; refs are resolved to stored rows only inside
// Persist, first against this pass and then against the store. Targets that
// cannot be found become null relations.
//
// # Scope
//
// Every pass records, per object type, which identities it saw (enter or
// modify) and which it saw leave. Persist only ever removes:
//
//   - identities that left during the pass
//   - in a full pass, live records of a mentioned type that were not seen
//
// Object types the pass never mentions are left untouched, which is what
// makes targeted (incremental) passes safe.
//
// # Reconnection
//
// A record with a secondary identity (UID) that has no primary match in the
// store reattaches the earliest-created disconnected record sharing that UID.
// Remaining matches stay disconnected. Removals are applied before any record
// is written, so an identity that leaves and re-enters under a new ref in the
// same pass reattaches to its old row.
package graph
