// Package relay keeps an outbound WebSocket to a remote relay and feeds
// relayed print jobs into the local queue.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/printjob"
	"github.com/adcondev/print-agent/internal/server"
)

const (
	writeTimeout      = 5 * time.Second
	defaultTokenTTL   = time.Hour
	defaultMinBackoff = time.Second
	defaultMaxBackoff = time.Minute
)

// Config holds relay connection settings.
type Config struct {
	URL      string
	ClientID string
	Secret   string
	TokenTTL time.Duration

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Enqueuer accepts jobs for the worker pool.
type Enqueuer interface {
	Enqueue(job *server.PrintJob) error
}

// Message is an inbound relay frame.
type Message struct {
	Tipo     string          `json:"tipo"`
	ID       string          `json:"id,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Datos    json.RawMessage `json:"datos,omitempty"`
}

// Event is an outbound relay frame.
type Event struct {
	Tipo    string `json:"tipo"`
	ReplyID string `json:"replyId,omitempty"`
	Datos   any    `json:"datos,omitempty"`
}

// Client is the relay connection.
type Client struct {
	cfg    Config
	queue  Enqueuer
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a relay client. Run must be called to connect.
func NewClient(cfg Config, queue Enqueuer, logger *zap.Logger) *Client {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, queue: queue, logger: logger}
}

// Token signs a bearer token identifying this agent.
func (c *Client) Token(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   c.cfg.ClientID,
		Issuer:    "print-agent",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.TokenTTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.Secret))
}

// Connected reports whether the relay socket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := c.cfg.MinBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.cfg.MinBackoff
		}
		c.logger.Warn("relay connection lost, retrying",
			zap.Error(err), zap.Duration("backoff", backoff))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// session dials once and reads until the socket fails.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	token, err := c.Token(time.Now())
	if err != nil {
		return false, fmt.Errorf("sign relay token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(64 << 20)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("relay connected", zap.String("url", c.cfg.URL))

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return true, err
		}
		c.route(&msg)
	}
}

func (c *Client) route(msg *Message) {
	switch msg.Tipo {
	case "print":
		c.handlePrint(msg)
	case "ping":
		_ = c.write(Event{Tipo: "pong", ReplyID: msg.ID})
	default:
		c.logger.Debug("ignoring relay message", zap.String("tipo", msg.Tipo))
	}
}

func (c *Client) handlePrint(msg *Message) {
	job, err := printjob.Parse(msg.Datos)
	if err != nil {
		c.logger.Warn("invalid relayed job", zap.String("id", msg.ID), zap.Error(err))
		_ = c.write(Event{Tipo: dispatch.EventError, ReplyID: msg.ID, Datos: dispatch.Result{
			ID:      msg.ID,
			Mensaje: "invalid 'datos': " + err.Error(),
		}})
		return
	}
	job.ClientID = msg.ClientID
	job.ClientType = printjob.ClientRelay

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	reply := &replyConn{client: c, replyID: job.ReplyID}
	if err := c.queue.Enqueue(&server.PrintJob{ID: id, Job: job, Conn: reply, ReceivedAt: time.Now()}); err != nil {
		c.logger.Warn("relayed job rejected", zap.String("id", id), zap.Error(err))
		_ = reply.Emit(dispatch.EventError, dispatch.Result{
			ID:         job.TaskID,
			Mensaje:    "queue full, please retry in a few seconds",
			TemplateID: job.TemplateID,
			ReplyID:    job.ReplyID,
		})
		return
	}
	c.logger.Info("relayed job queued",
		zap.String("id", id),
		zap.String("client_id", job.ClientID),
		zap.String("type", string(job.Kind())))
}

// ErrNotConnected is returned when writing while the relay is down.
var ErrNotConnected = errors.New("relay not connected")

func (c *Client) write(ev Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// BroadcastBusy forwards the busy state to the relay.
func (c *Client) BroadcastBusy(state dispatch.BusyState) {
	if err := c.write(Event{Tipo: dispatch.EventBusy, Datos: state}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Debug("busy_state not relayed", zap.Error(err))
	}
}

// replyConn routes a job's events back through the relay.
type replyConn struct {
	client  *Client
	replyID string
}

func (r *replyConn) Emit(event string, payload any) error {
	return r.client.write(Event{Tipo: event, ReplyID: r.replyID, Datos: payload})
}
