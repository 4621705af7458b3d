package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/steveyegge/invsync/internal/inventory/db"
	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/queue"
)

// PassData describes a persisted pass
type PassData struct {
	PassID      string `json:"pass_id"`
	Mode        string `json:"mode"`
	Source      string `json:"source"`
	Version     string `json:"version"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Archived    int    `json:"archived"`
	Deleted     int    `json:"deleted"`
	Unresolved  int    `json:"unresolved"`
	Reconnected int    `json:"reconnected"`
	DurationMS  int64  `json:"duration_ms"`
}

// PassFailedData describes a pass that was rolled back
type PassFailedData struct {
	PassID  string `json:"pass_id"`
	Mode    string `json:"mode,omitempty"`
	Source  string `json:"source,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error"`
}

// SourceStatusData mirrors the stored status of one source
type SourceStatusData struct {
	Name          string     `json:"name"`
	Healthy       bool       `json:"healthy"`
	LastVersion   string     `json:"last_version,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// StatsData contains running totals since the handler was created
type StatsData struct {
	Passes     int        `json:"passes"`
	Failed     int        `json:"failed"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Archived   int        `json:"archived"`
	Deleted    int        `json:"deleted"`
	LastPassAt *time.Time `json:"last_pass_at,omitempty"`
}

// Handler turns queue and status events into dashboard messages.
// Its methods match the queue hooks and are safe for concurrent use.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server.
// It also installs the stats snapshot as the server's welcome message.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{server: server, logger: logger}
	server.SetWelcome(h.statsMessage)
	return h
}

// OnPersisted handles a committed pass
func (h *Handler) OnPersisted(job queue.Job, took time.Duration) {
	data := PassData{PassID: job.ID(), DurationMS: took.Milliseconds()}
	if gj, ok := job.(*graph.Job); ok {
		g := gj.Graph()
		data.Mode = string(g.Mode)
		data.Source = g.Source
		data.Version = g.Version
		if r := gj.Result(); r != nil {
			data.Inserted = r.Inserted
			data.Updated = r.Updated
			data.Archived = r.Archived
			data.Deleted = r.Deleted
			data.Unresolved = r.Unresolved
			data.Reconnected = len(r.Reconnected)
		}
	}

	now := time.Now()
	h.mu.Lock()
	h.stats.Passes++
	h.stats.Inserted += data.Inserted
	h.stats.Updated += data.Updated
	h.stats.Archived += data.Archived
	h.stats.Deleted += data.Deleted
	h.stats.LastPassAt = &now
	h.mu.Unlock()

	h.send(MessageTypePassPersisted, data)
	h.broadcastStats()
}

// OnFailed handles a rolled back pass
func (h *Handler) OnFailed(job queue.Job, err error) {
	data := PassFailedData{PassID: job.ID(), Error: err.Error()}
	if gj, ok := job.(*graph.Job); ok {
		g := gj.Graph()
		data.Mode = string(g.Mode)
		data.Source = g.Source
		data.Version = g.Version
	}

	h.mu.Lock()
	h.stats.Failed++
	h.mu.Unlock()

	h.send(MessageTypePassFailed, data)
	h.broadcastStats()
}

// OnSourceStatus handles a stored source status change
func (h *Handler) OnSourceStatus(status *db.SourceStatus) {
	if status == nil {
		return
	}
	h.send(MessageTypeSourceStatus, SourceStatusData{
		Name:          status.Name,
		Healthy:       status.Healthy(),
		LastVersion:   status.LastVersion,
		LastSuccessAt: status.LastSuccessAt,
		LastError:     status.LastError,
	})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) send(typ MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: dataJSON})
}

func (h *Handler) statsMessage() Message {
	dataJSON, _ := json.Marshal(h.GetStats())
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: dataJSON}
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}
