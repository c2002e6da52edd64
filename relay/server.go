// Package relay serves browser consoles that must not hold an API key. Each
// browser websocket gets its own upstream realtime client; browser events are
// forwarded upstream and every server event is sent back down unchanged.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/enesunal-m/rtconsole"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 10 * 1024 * 1024
)

// Upstream is the realtime connection a browser is relayed to.
// *rtconsole.Client implements it.
type Upstream interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendRaw(ctx context.Context, raw []byte) error
	On(name string, fn rtconsole.Handler) (unsubscribe func())
}

var _ Upstream = (*rtconsole.Client)(nil)

// Options configures a Server.
type Options struct {
	// Config is used to create upstream clients when NewUpstream is nil.
	Config rtconsole.Config

	// NewUpstream creates the upstream for one browser connection.
	NewUpstream func() Upstream

	// Retry governs upstream connects. Defaults to rtconsole.DefaultRetryConfig().
	Retry *rtconsole.RetryConfig

	// Breaker is shared by all connections so a failing upstream is not
	// hammered by every browser that connects.
	Breaker rtconsole.CircuitBreakerConfig

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string

	// QueueSize bounds browser events buffered while the upstream connects.
	QueueSize int

	Logger *rtconsole.Logger
}

// Server is an http.Handler that relays browser websockets.
type Server struct {
	opts     Options
	retry    rtconsole.RetryConfig
	breaker  *rtconsole.CircuitBreaker
	upgrader websocket.Upgrader
	log      *rtconsole.ContextLogger

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewServer creates a relay server.
func NewServer(opts Options) *Server {
	if opts.NewUpstream == nil {
		cfg := opts.Config
		opts.NewUpstream = func() Upstream { return rtconsole.New(cfg) }
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Breaker.FailureThreshold <= 0 {
		opts.Breaker = rtconsole.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 1,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = rtconsole.DefaultLogger
	}
	retry := rtconsole.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	s := &Server{
		opts:    opts,
		retry:   retry,
		breaker: rtconsole.NewCircuitBreaker(opts.Breaker),
		log:     logger.WithContext(map[string]any{"component": "relay"}),
		conns:   make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP upgrades the request and starts relaying.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade_failed", map[string]any{"err": err, "remote": r.RemoteAddr})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &conn{
		id:      id,
		log:     s.log.With(map[string]any{"conn_id": id}),
		ws:      ws,
		server:  s,
		send:    make(chan []byte, s.opts.QueueSize),
		inbound: make(chan []byte, s.opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.register(c)

	go c.writePump()
	go c.readPump()
	go c.forward()
}

// Connections returns the number of relayed browsers.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// BreakerState reports the upstream circuit breaker state.
func (s *Server) BreakerState() rtconsole.CircuitBreakerState {
	return s.breaker.State()
}

// Close drops every browser connection and its upstream.
func (s *Server) Close() error {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.close("server_closed")
	}
	return nil
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	n := len(s.conns)
	s.mu.Unlock()
	c.log.Info("browser_connected", map[string]any{"connections": n})
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	n := len(s.conns)
	s.mu.Unlock()
	c.log.Info("browser_disconnected", map[string]any{"connections": n})
}

// conn is one relayed browser.
type conn struct {
	id     string
	log    *rtconsole.ContextLogger
	ws     *websocket.Conn
	server *Server

	send    chan []byte // to the browser
	inbound chan []byte // to the upstream

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *conn) close(reason string) {
	c.closeOnce.Do(func() {
		c.log.Debug("relay_closing", map[string]any{"reason": reason})
		c.cancel()
		c.server.unregister(c)
	})
}

func (c *conn) readPump() {
	defer c.close("browser_closed")

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("browser_read_failed", map[string]any{"err": err})
			}
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
			c.log.Warn("browser_event_invalid", map[string]any{"bytes": len(msg)})
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("browser_write_failed", map[string]any{"err": err})
				c.close("write_failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close("ping_failed")
				return
			}
		case <-c.ctx.Done():
			c.drain()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes messages queued before the connection closed, so a final
// error event still reaches the browser.
func (c *conn) drain() {
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) toBrowser(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}

// forward connects the upstream and then sends browser events to it in
// arrival order. Events that arrive before the upstream is ready wait in
// the inbound queue.
func (c *conn) forward() {
	s := c.server
	up := s.opts.NewUpstream()

	unsubs := []func(){
		up.On(rtconsole.EventRealtime, func(n rtconsole.Notification) {
			if n.Event != nil && n.Event.Source == rtconsole.SourceServer {
				c.toBrowser(n.Event.Raw)
			}
		}),
		up.On(rtconsole.EventClose, func(n rtconsole.Notification) {
			c.log.Warn("upstream_closed", map[string]any{"err": n.Err})
			c.close("upstream_closed")
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := up.Disconnect(ctx); err != nil {
			c.log.Debug("upstream_disconnect_failed", map[string]any{"err": err})
		}
	}()

	err := s.breaker.Execute(func() error {
		return rtconsole.WithRetry(c.ctx, s.retry, func() error {
			return up.Connect(c.ctx)
		})
	})
	if err != nil {
		if c.ctx.Err() == nil {
			c.log.Error("upstream_connect_failed", map[string]any{"err": err, "breaker": s.breaker.State().String()})
			c.toBrowser(errorEvent(err))
		}
		c.close("upstream_connect_failed")
		return
	}
	c.log.Info("upstream_connected", nil)

	for {
		select {
		case msg := <-c.inbound:
			if err := up.SendRaw(c.ctx, msg); err != nil && c.ctx.Err() == nil {
				c.log.Warn("upstream_send_failed", map[string]any{"err": err})
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// errorEvent renders err in the server error event shape.
func errorEvent(err error) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "relay_error",
			"message": err.Error(),
		},
	})
	return b
}
