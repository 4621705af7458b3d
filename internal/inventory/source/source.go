// Package source connects the synchronization loop to a remote inventory.
//
// A Subscription opens Sessions. A Session enumerates the full inventory
// once and then delivers incremental update batches, one WaitForUpdates call
// at a time. Implementations:
//   - WebSocket: a remote update service spoken over coder/websocket
//   - Replay: a directory of batch files, watched with fsnotify
//   - Memory: an in-process scripted source for tests and dry runs
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

var (
	// ErrNoUpdates is returned by WaitForUpdates when the wait timed out
	// without changes. It is not a fault.
	ErrNoUpdates = errors.New("no updates")

	// ErrTransport marks session-level faults; errors.Is(err, ErrTransport)
	// holds for every *TransportError.
	ErrTransport = errors.New("transport fault")
)

// TransportError is a lost or broken session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport fault during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) hold.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Credentials authenticate a session.
type Credentials struct {
	Username string
	Password string
}

// Subscription opens sessions against one remote source.
type Subscription interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// Session is one connection to the remote source.
type Session interface {
	// Enumerate returns the full inventory as a synthetic enter batch.
	Enumerate(ctx context.Context) (*schema.UpdateBatch, error)

	// WaitForUpdates blocks until the next batch is available. It returns
	// ErrNoUpdates when the wait times out without changes.
	WaitForUpdates(ctx context.Context) (*schema.UpdateBatch, error)

	// Disconnect ends the session.
	Disconnect(ctx context.Context) error
}
