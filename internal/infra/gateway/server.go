// Package gateway exposes the engine over a JSON WebSocket protocol.
//
// It is a paper/dev surface: the client names its own caller and the fund
// op credits balances from nothing. There is no authentication, so do not
// expose it beyond a trusted network.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"twamm_go/internal/domain"
	"twamm_go/internal/event"
	"twamm_go/pkg/fixed"
)

const (
	defaultReadTimeout = 60 * time.Second
	defaultMaxMessage  = 64 << 10
	writeTimeout       = 10 * time.Second
	submitTimeout      = 30 * time.Second
)

// Submitter runs a command on the engine and waits for its result.
type Submitter interface {
	Submit(ctx context.Context, cmd *event.Command) (event.Result, error)
}

// ConnCounter tracks open connections; infra.Metrics implements it.
type ConnCounter interface {
	IncrementConnections()
	DecrementConnections()
}

// Request is one client message.
type Request struct {
	ID        string          `json:"id"`
	Op        string          `json:"op"`
	Caller    domain.Identity `json:"caller"`
	Asset     domain.Asset    `json:"asset"`
	Amount    fixed.Fixed     `json:"amount"`
	Amount1   fixed.Fixed     `json:"amount1"`
	Intervals uint64          `json:"intervals"`
	OrderID   uint64          `json:"order_id"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     string `json:"id"`
	Seq    uint64 `json:"seq,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Options configures a Server. Zero values take defaults.
type Options struct {
	ReadTimeout     time.Duration
	MaxMessageBytes int64
	Conns           ConnCounter
}

// Server is an http.Handler that upgrades to WebSocket and relays requests.
type Server struct {
	sub      Submitter
	opts     Options
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

func NewServer(sub Submitter, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessage
	}
	return &Server{
		sub:  sub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		server: s,
	}
	if s.opts.Conns != nil {
		s.opts.Conns.IncrementConnections()
		defer s.opts.Conns.DecrementConnections()
	}
	slog.Info("Gateway client connected", slog.String("conn_id", c.id), slog.String("remote", r.RemoteAddr))

	c.serve(r.Context())
	slog.Info("Gateway client disconnected", slog.String("conn_id", c.id))
}

type client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	writeMu sync.Mutex
}

func (c *client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()

	opts := c.server.opts
	c.conn.SetReadLimit(opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	go c.pingLoop(ctx, opts.ReadTimeout/2)

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Gateway read failed", slog.String("conn_id", c.id), slog.Any("error", err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))

		resp := c.handle(ctx, &req)
		if err := c.write(resp); err != nil {
			slog.Warn("Gateway write failed", slog.String("conn_id", c.id), slog.Any("error", err))
			return
		}
	}
}

func (c *client) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Unblocks the reader when the server shuts down.
			c.writeMu.Lock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			c.conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) write(resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(resp)
}

func (c *client) handle(ctx context.Context, req *Request) Response {
	resp := Response{ID: req.ID}

	cmd := event.AcquireCommand()
	cmd.Type = event.Type(req.Op)
	cmd.Caller = req.Caller
	cmd.Asset = req.Asset
	cmd.Amount = req.Amount
	cmd.Amount1 = req.Amount1
	cmd.Intervals = req.Intervals
	cmd.OrderID = req.OrderID

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	res, err := c.server.sub.Submit(ctx, cmd)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Seq = res.Seq
	if res.Err != nil {
		resp.Error = res.Err.Error()
		slog.Debug("Command failed",
			slog.String("conn_id", c.id),
			slog.String("op", req.Op),
			slog.Any("error", res.Err))
		return resp
	}
	resp.OK = true
	resp.Result = res.Value
	return resp
}
