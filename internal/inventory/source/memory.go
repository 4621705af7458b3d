package source

import (
	"context"
	"sync"
	"time"

	"github.com/steveyegge/invsync/internal/inventory/changes"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Memory is a scripted in-process source.
//
// Batches pushed with Push are delivered in order to whichever session is
// connected. Faults injected with FailConnect and FailWait are returned once,
// in order, before any further batch.
type Memory struct {
	// WaitTimeout is how long WaitForUpdates blocks before ErrNoUpdates
	WaitTimeout time.Duration

	mu           sync.Mutex
	baseline     []schema.ObjectSnapshot
	version      string
	batches      []*schema.UpdateBatch
	connectFault []error
	waitFault    []error
	notify       chan struct{}
	connects     int
	disconnects  int
	lastCreds    Credentials
}

// NewMemory creates a memory source with the given baseline.
func NewMemory(version string, baseline []schema.ObjectSnapshot) *Memory {
	m := &Memory{
		WaitTimeout: 20 * time.Millisecond,
		notify:      make(chan struct{}),
	}
	m.SetBaseline(version, baseline)
	return m
}

// SetBaseline replaces what the next Enumerate returns.
func (m *Memory) SetBaseline(version string, baseline []schema.ObjectSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = version
	m.baseline = make([]schema.ObjectSnapshot, len(baseline))
	for i, s := range baseline {
		m.baseline[i] = schema.ObjectSnapshot{
			Object:     s.Object,
			Properties: changes.Clone(s.Properties).(map[string]any),
		}
	}
}

// Push queues a batch for delivery.
func (m *Memory) Push(batch *schema.UpdateBatch) {
	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.wakeLocked()
	m.mu.Unlock()
}

// FailConnect makes the next Connect return err.
func (m *Memory) FailConnect(err error) {
	m.mu.Lock()
	m.connectFault = append(m.connectFault, err)
	m.mu.Unlock()
}

// FailWait makes the next WaitForUpdates return err.
func (m *Memory) FailWait(err error) {
	m.mu.Lock()
	m.waitFault = append(m.waitFault, err)
	m.wakeLocked()
	m.mu.Unlock()
}

// Pending returns the number of undelivered batches.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// Connects returns how many sessions have been opened.
func (m *Memory) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Disconnects returns how many sessions have been closed.
func (m *Memory) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// LastCredentials returns the credentials of the latest Connect.
func (m *Memory) LastCredentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCreds
}

func (m *Memory) wakeLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// Connect opens a session.
func (m *Memory) Connect(ctx context.Context, creds Credentials) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCreds = creds
	if len(m.connectFault) > 0 {
		err := m.connectFault[0]
		m.connectFault = m.connectFault[1:]
		return nil, &TransportError{Op: "connect", Err: err}
	}
	m.connects++
	return &memorySession{source: m}, nil
}

type memorySession struct {
	source *Memory
	closed bool
}

func (s *memorySession) Enumerate(ctx context.Context) (*schema.UpdateBatch, error) {
	m := s.source
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.closed {
		return nil, &TransportError{Op: "enumerate", Err: errSessionClosed}
	}

	snapshots := make([]schema.ObjectSnapshot, len(m.baseline))
	for i, snap := range m.baseline {
		snapshots[i] = schema.ObjectSnapshot{
			Object:     snap.Object,
			Properties: changes.Clone(snap.Properties).(map[string]any),
		}
	}
	return schema.SnapshotBatch(m.version, snapshots), nil
}

func (s *memorySession) WaitForUpdates(ctx context.Context) (*schema.UpdateBatch, error) {
	m := s.source
	timer := time.NewTimer(m.WaitTimeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if s.closed {
			m.mu.Unlock()
			return nil, &TransportError{Op: "wait", Err: errSessionClosed}
		}
		if len(m.waitFault) > 0 {
			err := m.waitFault[0]
			m.waitFault = m.waitFault[1:]
			m.mu.Unlock()
			return nil, err
		}
		if len(m.batches) > 0 {
			batch := m.batches[0]
			m.batches = m.batches[1:]
			if batch.Version != "" {
				m.version = batch.Version
			}
			m.mu.Unlock()
			return batch, nil
		}
		notify := m.notify
		m.mu.Unlock()

		select {
		case <-notify:
		case <-timer.C:
			return nil, ErrNoUpdates
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *memorySession) Disconnect(ctx context.Context) error {
	m := s.source
	m.mu.Lock()
	defer m.mu.Unlock()
	if !s.closed {
		s.closed = true
		m.disconnects++
	}
	return nil
}
