package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

var errSessionClosed = errors.New("session closed")

// Protocol operations.
const (
	OpEnumerate = "enumerate"
	OpWait      = "wait"
	OpSnapshot  = "snapshot"
	OpUpdates   = "updates"
	OpTimeout   = "timeout"
	OpError     = "error"
)

// Request is a client message.
type Request struct {
	Op        string `json:"op"`
	Version   string `json:"version,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Reply is a server message.
type Reply struct {
	Op      string                  `json:"op"`
	Version string                  `json:"version,omitempty"`
	Objects []schema.ObjectSnapshot `json:"objects,omitempty"`
	Batch   *schema.UpdateBatch     `json:"batch,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// RemoteError is an error reported by the update service.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error during %s: %s", e.Op, e.Message)
}

// WebSocket subscribes to a remote update service.
type WebSocket struct {
	// URL is the service endpoint, e.g. wss://collector.example/updates
	URL string
	// DialTimeout bounds Connect
	DialTimeout time.Duration
	// WaitTimeout is the server-side wait requested per WaitForUpdates
	WaitTimeout time.Duration
	// ReadLimit bounds the size of one reply in bytes
	ReadLimit int64
}

// NewWebSocket creates a subscription with default timeouts.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		URL:         url,
		DialTimeout: 10 * time.Second,
		WaitTimeout: 30 * time.Second,
		ReadLimit:   64 << 20,
	}
}

// Connect dials the service. Credentials are sent as HTTP basic auth.
func (w *WebSocket) Connect(ctx context.Context, creds Credentials) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, w.DialTimeout)
	defer cancel()

	header := http.Header{}
	if creds.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		header.Set("Authorization", "Basic "+token)
	}

	conn, _, err := websocket.Dial(dialCtx, w.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if w.ReadLimit > 0 {
		conn.SetReadLimit(w.ReadLimit)
	}
	return &wsSession{conn: conn, waitTimeout: w.WaitTimeout}, nil
}

type wsSession struct {
	conn        *websocket.Conn
	waitTimeout time.Duration
	version     string
	closed      bool
}

// roundTrip sends req and reads one reply.
func (s *wsSession) roundTrip(ctx context.Context, req Request) (*Reply, error) {
	if s.closed {
		return nil, &TransportError{Op: req.Op, Err: errSessionClosed}
	}
	if err := wsjson.Write(ctx, s.conn, req); err != nil {
		return nil, &TransportError{Op: req.Op, Err: err}
	}
	var reply Reply
	if err := wsjson.Read(ctx, s.conn, &reply); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: req.Op, Err: err}
	}
	if reply.Op == OpError {
		return nil, &RemoteError{Op: req.Op, Message: reply.Message}
	}
	return &reply, nil
}

func (s *wsSession) Enumerate(ctx context.Context) (*schema.UpdateBatch, error) {
	reply, err := s.roundTrip(ctx, Request{Op: OpEnumerate})
	if err != nil {
		return nil, err
	}
	if reply.Op != OpSnapshot {
		return nil, &TransportError{Op: OpEnumerate, Err: fmt.Errorf("unexpected reply %q", reply.Op)}
	}
	for i, snap := range reply.Objects {
		if err := snap.Object.Validate(); err != nil {
			return nil, fmt.Errorf("invalid snapshot %d: %w", i, err)
		}
	}
	s.version = reply.Version
	return schema.SnapshotBatch(reply.Version, reply.Objects), nil
}

func (s *wsSession) WaitForUpdates(ctx context.Context) (*schema.UpdateBatch, error) {
	reply, err := s.roundTrip(ctx, Request{
		Op:        OpWait,
		Version:   s.version,
		TimeoutMS: s.waitTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}

	switch reply.Op {
	case OpTimeout:
		return nil, ErrNoUpdates
	case OpUpdates:
		if reply.Batch == nil {
			return nil, &TransportError{Op: OpWait, Err: errors.New("updates reply without batch")}
		}
		if err := reply.Batch.Validate(); err != nil {
			return nil, fmt.Errorf("invalid batch: %w", err)
		}
		if reply.Batch.Version != "" {
			s.version = reply.Batch.Version
		}
		return reply.Batch, nil
	default:
		return nil, &TransportError{Op: OpWait, Err: fmt.Errorf("unexpected reply %q", reply.Op)}
	}
}

func (s *wsSession) Disconnect(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(websocket.StatusNormalClosure, "disconnect"); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}
