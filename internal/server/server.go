// Package server accepts local WebSocket clients and queues their print jobs.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printjob"
)

// maxMessageBytes bounds one inbound message; blob jobs carry whole PDFs.
const maxMessageBytes = 64 << 20

// ErrQueueFull is returned by Enqueue when the queue has no room.
var ErrQueueFull = errors.New("queue full")

// PrinterLister is the printer discovery as seen by clients.
type PrinterLister interface {
	GetPrinters(forceRefresh bool) ([]printer.Printer, error)
	GetSummary() printer.Summary
	Details(printers []printer.Printer) []printer.DetailDTO
}

// Config holds server configuration
type Config struct {
	QueueSize int
	// AllowedOrigins are origin host patterns; empty enforces same origin.
	AllowedOrigins []string
	// AuthToken, when set, must accompany every print message.
	AuthToken        string
	MaxJobsPerMinute int
}

// PrintJob is a queued print request.
type PrintJob struct {
	ID         string
	Job        *printjob.Descriptor
	Conn       dispatch.Connection
	ReceivedAt time.Time
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo  string          `json:"tipo"`
	ID    string          `json:"id,omitempty"`
	Token string          `json:"token,omitempty"`
	Datos json.RawMessage `json:"datos,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo     string `json:"tipo"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Mensaje  string `json:"mensaje,omitempty"`
	Current  int    `json:"current,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

// Server manages WebSocket connections and job queue
type Server struct {
	cfg              Config
	clients          *ClientRegistry
	jobQueue         chan *PrintJob
	limiter          *JobRateLimiter
	shutdownOnce     sync.Once
	shutdownChan     chan struct{}
	printerDiscovery PrinterLister
	logger           *zap.Logger
}

// NewServer creates a new WebSocket server
func NewServer(cfg Config, discovery PrinterLister, logger *zap.Logger) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxJobsPerMinute <= 0 {
		cfg.MaxJobsPerMinute = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		cfg:              cfg,
		clients:          NewClientRegistry(),
		jobQueue:         make(chan *PrintJob, cfg.QueueSize),
		limiter:          NewJobRateLimiter(cfg.MaxJobsPerMinute),
		shutdownChan:     make(chan struct{}),
		printerDiscovery: discovery,
		logger:           logger,
	}
}

// QueueStatus returns current and max queue size
func (s *Server) QueueStatus() (current, capacity int) {
	return len(s.jobQueue), cap(s.jobQueue)
}

// JobQueue returns the job queue channel (for worker consumption)
func (s *Server) JobQueue() <-chan *PrintJob {
	return s.jobQueue
}

// ClientCount returns the number of connected local clients.
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// Enqueue adds a job without blocking.
func (s *Server) Enqueue(job *PrintJob) error {
	select {
	case <-s.shutdownChan:
		return errors.New("server shutting down")
	default:
	}
	select {
	case s.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// originPatterns turns configured origins into host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		o = strings.TrimSuffix(o, "/")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		s.logger.Warn("error accepting client", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	client := &Client{ID: uuid.NewString(), Addr: clientHost(r.RemoteAddr), conn: conn}
	s.clients.Add(client)
	s.logger.Info("client connected",
		zap.String("client_id", client.ID),
		zap.String("remote", r.RemoteAddr),
		zap.Int("total", s.clients.Count()))

	ctx := r.Context()
	_ = client.write(ctx, Response{
		Tipo:    "info",
		ID:      client.ID,
		Status:  "connected",
		Mensaje: "print agent ready",
	})

	s.handleMessages(ctx, client)

	s.clients.Remove(client)
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
	s.logger.Info("client disconnected",
		zap.String("client_id", client.ID),
		zap.Int("remaining", s.clients.Count()))
}

func clientHost(remoteAddr string) string {
	if i := strings.LastIndex(remoteAddr, ":"); i > 0 {
		return remoteAddr[:i]
	}
	return remoteAddr
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, client *Client) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, client.conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return
			}
			s.logger.Debug("error reading message", zap.String("client_id", client.ID), zap.Error(err))
			return
		}

		s.routeMessage(ctx, client, &msg)
	}
}

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, client *Client, msg *Message) {
	switch msg.Tipo {
	case "print":
		s.handlePrint(ctx, client, msg)
	case "status":
		s.handleStatus(ctx, client)
	case "ping":
		s.handlePing(ctx, client, msg)
	case "get_printers":
		s.handleGetPrinters(ctx, client)
	default:
		s.logger.Warn("unknown message type", zap.String("tipo", msg.Tipo))
		s.sendError(ctx, client, msg.ID, "unknown message type: "+msg.Tipo)
	}
}

// handlePrint validates and queues a print job request
func (s *Server) handlePrint(ctx context.Context, client *Client, msg *Message) {
	jobID := msg.ID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	if s.cfg.AuthToken != "" &&
		subtle.ConstantTimeCompare([]byte(msg.Token), []byte(s.cfg.AuthToken)) != 1 {
		s.logger.Warn("job rejected: bad token", zap.String("job_id", jobID), zap.String("client_id", client.ID))
		s.sendError(ctx, client, jobID, "unauthorized")
		return
	}
	if len(msg.Datos) == 0 {
		s.sendError(ctx, client, jobID, "field 'datos' is required for type 'print'")
		return
	}
	if !s.limiter.Allow(client.Addr) {
		s.logger.Warn("job rejected: rate limit", zap.String("job_id", jobID), zap.String("remote", client.Addr))
		s.sendError(ctx, client, jobID, "too many print jobs, please slow down")
		return
	}

	job, err := printjob.Parse(msg.Datos)
	if err != nil {
		s.sendError(ctx, client, jobID, "invalid 'datos': "+err.Error())
		return
	}
	job.ClientID = client.ID
	job.ClientType = client.Category()

	if err := s.Enqueue(&PrintJob{ID: jobID, Job: job, Conn: client, ReceivedAt: time.Now()}); err != nil {
		current, capacity := s.QueueStatus()
		s.logger.Warn("queue full, rejecting job",
			zap.String("job_id", jobID), zap.Int("current", current), zap.Int("capacity", capacity))
		s.sendError(ctx, client, jobID, "queue full, please retry in a few seconds")
		return
	}

	current, capacity := s.QueueStatus()
	s.logger.Info("job queued",
		zap.String("job_id", jobID),
		zap.String("type", string(job.Kind())),
		zap.String("template_id", job.TemplateID),
		zap.Int("current", current),
		zap.Int("capacity", capacity))

	_ = client.write(ctx, Response{
		Tipo:     "ack",
		ID:       jobID,
		Status:   "queued",
		Current:  current,
		Capacity: capacity,
		Mensaje:  "job queued for printing",
	})
}

// handleStatus sends queue status
func (s *Server) handleStatus(ctx context.Context, client *Client) {
	current, capacity := s.QueueStatus()
	_ = client.write(ctx, Response{
		Tipo:     "status",
		Status:   "ok",
		Current:  current,
		Capacity: capacity,
		Mensaje:  formatStatus(current, capacity),
	})
}

// handlePing responds to ping
func (s *Server) handlePing(ctx context.Context, client *Client, msg *Message) {
	_ = client.write(ctx, Response{Tipo: "pong", ID: msg.ID, Status: "ok"})
}

// handleGetPrinters handles printer enumeration requests
func (s *Server) handleGetPrinters(ctx context.Context, client *Client) {
	printers, err := s.printerDiscovery.GetPrinters(false)
	if err != nil && len(printers) == 0 {
		s.sendError(ctx, client, "", "failed to enumerate printers: "+err.Error())
		return
	}

	response := struct {
		Tipo     string              `json:"tipo"`
		Status   string              `json:"status"`
		Printers []printer.DetailDTO `json:"printers"`
		Summary  printer.Summary     `json:"summary"`
	}{
		Tipo:     "printers",
		Status:   "ok",
		Printers: s.printerDiscovery.Details(printers),
		Summary:  s.printerDiscovery.GetSummary(),
	}
	_ = client.write(ctx, response)
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, client *Client, id, mensaje string) {
	_ = client.write(ctx, Response{
		Tipo:    "error",
		ID:      id,
		Status:  "error",
		Mensaje: mensaje,
	})
}

// BroadcastBusy sends the busy state to every client.
func (s *Server) BroadcastBusy(state dispatch.BusyState) {
	s.clients.ForEach(func(c *Client) {
		if err := c.Emit(dispatch.EventBusy, state); err != nil {
			s.logger.Debug("busy_state not delivered", zap.String("client_id", c.ID), zap.Error(err))
		}
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		s.logger.Info("shutting down, disconnecting clients", zap.Int("clients", s.clients.Count()))

		s.clients.ForEach(func(c *Client) {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		})
	})
}

func formatStatus(current, capacity int) string {
	return "Queue: " + strconv.Itoa(current) + "/" + strconv.Itoa(capacity)
}
