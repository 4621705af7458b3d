// Package daemon runs the synchronization loop for one remote source.
//
// # Architecture
//
// The loop is single-threaded and is the only writer of the property cache
// and of the pass in progress:
//
//	Subscription -> Session -> Cache -> Builder -> Graph -> Queue -> Store
//
// On connect the cache is reset and the full enumeration is applied as a
// synthetic enter batch, which becomes a full pass. Every later batch boundary
// seals the pass in progress, hands it to the queue and starts a targeted
// pass. A truncated batch is continued by the next one, so its pass stays
// open.
//
// # Usage
//
//	d, err := daemon.New(sub, creds, cache.New(), builder, store, q, status, nil)
//	if err != nil {
//	    return err
//	}
//	go func() {
//	    <-ctx.Done()
//	    d.Stop()
//	}()
//	return d.Run(ctx)
//
// # Faults
//
//   - ErrNoUpdates from a wait is benign; the loop waits again
//   - Any other wait error drops the session; the loop reconnects after
//     ReconnectDelay and resynchronizes from a fresh enumeration
//   - An unknown object type discards the pass in progress and is recorded
//     on the source status
//   - Malformed change paths fail only the change they belong to
//
// Stop is cooperative: it is observed between waits, so shutdown latency is
// bounded by the source's wait timeout.
package daemon
