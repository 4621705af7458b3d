// Package schema defines the wire shapes exchanged with a remote inventory
// source.
//
// # Overview
//
// A remote source describes its objects as identities plus property trees.
// It first delivers a baseline of full snapshots, then streams update batches
// carrying path-addressed changes:
//
//	{
//	  "version": "42",
//	  "truncated": false,
//	  "entries": [
//	    {
//	      "object": {"type": "VirtualMachine", "ref": "vm-17"},
//	      "kind": "modify",
//	      "changes": [
//	        {"path": "runtime.powerState", "op": "assign", "value": "poweredOff"},
//	        {"path": "config.hardware.device[\"4000\"]", "op": "remove"}
//	      ]
//	    }
//	  ]
//	}
//
// # Kinds
//
//   - enter - first full observation of an identity
//   - modify - delta against the state already observed
//   - leave - identity has left the inventory
//
// # Files
//
// Batches and baselines can be stored as JSON files. The replay source and
// the test fixtures use ReadBatchFile, WriteBatchFile and ReadSnapshotFile.
package schema
