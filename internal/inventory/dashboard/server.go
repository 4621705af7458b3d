// Package dashboard provides a real-time WebSocket feed of synchronization
// activity.
//
// The dashboard broadcasts persisted and failed passes and source status
// changes to connected WebSocket clients. It is read-only: client messages
// are ignored.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	// MessageTypePassPersisted: a pass was committed to the store
	MessageTypePassPersisted MessageType = "pass_persisted"

	// MessageTypePassFailed: a pass was rolled back
	MessageTypePassFailed MessageType = "pass_failed"

	// MessageTypeSourceStatus: the status of a source changed
	MessageTypeSourceStatus MessageType = "source_status"

	// MessageTypeStats carries running totals; it is also the welcome message
	MessageTypeStats MessageType = "stats"
)

// Message is one frame of the feed.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// outboxSize is the number of frames a client may fall behind before it is
// disconnected.
const outboxSize = 64

const writeTimeout = 5 * time.Second

// client is one connected subscriber with its own writer goroutine.
type client struct {
	conn   *websocket.Conn
	outbox chan []byte
	once   sync.Once
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.outbox)
		_ = c.conn.Close(code, reason)
	})
}

// Server accepts feed subscribers and fans messages out to them.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	hookMu  sync.RWMutex
	welcome func() Message
	health  func() map[string]any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Host to bind; empty means all interfaces
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		clients: make(map[*client]struct{}),
		welcome: func() Message { return Message{Type: MessageTypeStats} },
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// SetWelcome replaces the builder of the first message a client receives.
func (s *Server) SetWelcome(fn func() Message) {
	s.hookMu.Lock()
	s.welcome = fn
	s.hookMu.Unlock()
}

// SetHealth registers extra fields for the /health response.
func (s *Server) SetHealth(fn func() map[string]any) {
	s.hookMu.Lock()
	s.health = fn
	s.hookMu.Unlock()
}

// Handler returns the HTTP routes served by the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveFeed)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/", s.serveIndex)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Dashboard serve error: %v", err)
		}
	}()
	return nil
}

// Run starts the server and stops it when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop disconnects every client and shuts the listener down. It is safe to
// call on a server that was never started.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		c.close(websocket.StatusGoingAway, "dashboard shutting down")
		delete(s.clients, c)
	}
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", serr)
		}
	}
	s.wg.Wait()
	if s.http != nil {
		s.logger.Println("Dashboard stopped")
	}
	return err
}

// Broadcast queues msg for every client. A client whose outbox is full is
// disconnected; Broadcast never blocks.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.outbox <- frame:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Printf("Dropping slow dashboard client")
		s.drop(c, websocket.StatusPolicyViolation, "client too slow")
	}
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket accept failed: %v", err)
		return
	}

	s.hookMu.RLock()
	welcome := s.welcome()
	s.hookMu.RUnlock()
	if welcome.Timestamp.IsZero() {
		welcome.Timestamp = time.Now()
	}
	first, _ := json.Marshal(welcome)

	c := &client{conn: conn, outbox: make(chan []byte, outboxSize)}
	// Queue the welcome before registering so it precedes any broadcast.
	c.outbox <- first

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "dashboard shutting down")
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Printf("Dashboard client connected (%d total)", n)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop drains one client's outbox.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for frame := range c.outbox {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			s.drop(c, websocket.StatusInternalError, "")
			return
		}
	}
}

// readLoop discards client frames until the connection ends.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.drop(c, websocket.StatusNormalClosure, "")
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	c.close(code, reason)
	if ok {
		s.logger.Printf("Dashboard client disconnected (%d total)", n)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	}

	s.hookMu.RLock()
	extra := s.health
	s.hookMu.RUnlock()
	if extra != nil {
		for k, v := range extra() {
			body[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>invsync</title></head>
<body>
  <h1>invsync</h1>
  <p>Feed: <code>ws://%s/ws</code></p>
  <p>Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
