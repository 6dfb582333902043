package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
)

// WebSocketConnection is the mediator connection. It dials, feeds inbound
// frames to a Sink and redials after every session until Run returns.
type WebSocketConnection struct {
	cfg     Config
	dialer  *websocket.Dialer
	sink    Sink
	session SessionHandler
	log     *logging.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	watchdog *idleWatchdog
	// pendingDelay is the redial delay requested by RestartConnection.
	pendingDelay time.Duration
	restarting   bool

	writeMu  sync.Mutex
	sessions atomic.Int64
	running  atomic.Bool
}

// Option configures a WebSocketConnection.
type Option func(*WebSocketConnection)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *WebSocketConnection) { c.log = l }
}

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *WebSocketConnection) { c.dialer = d }
}

// NewWebSocketConnection creates a connection. Nothing is dialed before Run.
func NewWebSocketConnection(cfg Config, sink Sink, session SessionHandler, opts ...Option) (*WebSocketConnection, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput(err.Error(), errors.WithCause(err))
	}

	c := &WebSocketConnection{
		cfg:     cfg,
		sink:    sink,
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.New()
	}
	c.log = c.log.WithComponent("transport")
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		}
	}
	return c, nil
}

// Sessions returns how many sessions have been established.
func (c *WebSocketConnection) Sessions() int64 {
	return c.sessions.Load()
}

// Connected reports whether a session is open.
func (c *WebSocketConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendOutbound encodes msg and writes it as one binary frame.
func (c *WebSocketConnection) SendOutbound(ctx context.Context, msg protocol.OutboundMessage) error {
	data, err := protocol.EncodeOutbound(msg)
	if err != nil {
		return errors.Wrap(err, "encode "+msg.Name())
	}

	c.mu.Lock()
	conn, watchdog := c.conn, c.watchdog
	c.mu.Unlock()
	if conn == nil {
		return errors.ConnectionUnavailable()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.ConnectionStopped("write "+msg.Name()+" failed", errors.WithCause(err))
	}
	if watchdog != nil {
		watchdog.Touch()
	}
	return nil
}

// RestartConnection closes the current session and redials after delay.
// It does not wait for the session to end.
func (c *WebSocketConnection) RestartConnection(delay time.Duration) {
	c.mu.Lock()
	c.pendingDelay = delay
	c.restarting = true
	conn := c.conn
	c.mu.Unlock()

	c.log.Info("restarting connection", map[string]interface{}{"delay": delay.String()})
	if conn != nil {
		conn.Close()
	}
}

// Run dials the mediator and serves sessions until ctx is done.
func (c *WebSocketConnection) Run(ctx context.Context) error {
	if c.running.Swap(true) {
		return errors.New(errors.ErrCodeUnsupported, "connection is already running")
	}
	defer c.running.Store(false)

	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}

		delay := c.nextDelay()
		fields := map[string]interface{}{"delay": delay.String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.log.Info("session ended, redialing", fields)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (c *WebSocketConnection) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	delay := c.cfg.RedialDelay
	if c.restarting {
		delay = c.pendingDelay
	}
	c.restarting = false
	c.pendingDelay = 0
	return delay
}

func (c *WebSocketConnection) runSession(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	ws, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	cancel()
	if err != nil {
		return errors.Wrap(err, "dial mediator", errors.WithMetadata("url", c.cfg.URL))
	}
	ws.SetReadLimit(c.cfg.MaxMessageSize)

	locks := newLockSet(c.cfg.LockTimeout)
	var watchdog *idleWatchdog
	if c.cfg.IdleTimeout > 0 {
		watchdog = newIdleWatchdog(c.cfg.IdleTimeout, locks.held, func(idle time.Duration) {
			c.log.Info("closing idle connection", map[string]interface{}{"idle": idle.String()})
			ws.Close()
		})
	}

	c.mu.Lock()
	c.conn = ws
	c.watchdog = watchdog
	c.mu.Unlock()
	c.sessions.Add(1)
	c.log.Info("connected to mediator", map[string]interface{}{"url": c.cfg.URL})

	reason := "connection closed"
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.watchdog = nil
		c.mu.Unlock()
		ws.Close()
		c.session.SessionEnded(reason)
	}()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	if err := c.session.SessionStarted(c); err != nil {
		reason = "session start failed"
		return errors.Wrap(err, "start session")
	}

	if watchdog != nil {
		watchdog.Start()
		defer watchdog.Stop()
	}
	if c.cfg.PingInterval > 0 {
		pingDone := make(chan struct{})
		defer close(pingDone)
		go c.pingLoop(ws, pingDone)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "closed by mediator"
			} else {
				reason = "read failed: " + err.Error()
			}
			return err
		}
		if watchdog != nil {
			watchdog.Touch()
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", map[string]interface{}{
				"error": err.Error(),
				"size":  len(data),
			})
			continue
		}
		c.sink.ProcessInboundMessage(msg, locks.acquire())
	}
}

func (c *WebSocketConnection) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
