package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/vinayprograms/mediatorkit/protocol"
	"github.com/vinayprograms/mediatorkit/taskmanager"
)

// ErrInvalidURL is returned for a mediator URL that cannot be dialed.
var ErrInvalidURL = errors.New("invalid mediator url")

// Sink receives every decoded inbound message together with the lock that
// keeps the connection alive until the message has been routed.
//
// *taskmanager.Manager is a Sink.
type Sink interface {
	ProcessInboundMessage(msg protocol.InboundMessage, lock taskmanager.ConnectionLock)
}

// SessionHandler is told when a mediator session starts and ends.
type SessionHandler interface {
	// SessionStarted is called once the socket is open and before the
	// first frame is read. An error closes the session.
	SessionStarted(conn taskmanager.Connection) error

	// SessionEnded is called after the socket is closed.
	SessionEnded(reason string)
}

// ManagerSession starts the manager's runner for each session and stops it
// when the session ends.
type ManagerSession struct {
	Manager   *taskmanager.Manager
	Processor taskmanager.IncomingMessageProcessor
}

// SessionStarted implements SessionHandler.
func (s ManagerSession) SessionStarted(conn taskmanager.Connection) error {
	return s.Manager.StartTaskRunner(conn, s.Processor)
}

// SessionEnded implements SessionHandler.
func (s ManagerSession) SessionEnded(reason string) {
	s.Manager.StopTaskRunner(reason)
}

// Config holds WebSocket connection configuration.
type Config struct {
	// URL of the mediator, ws:// or wss://.
	URL string

	// Header is sent with the upgrade request.
	Header http.Header

	// HandshakeTimeout bounds dialing and the upgrade.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// IdleTimeout closes a session without traffic for this long while no
	// connection lock is held. 0 disables it.
	IdleTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// MaxMessageSize limits incoming frame size.
	MaxMessageSize int64

	// RedialDelay is waited after a session ends without a requested
	// restart delay.
	RedialDelay time.Duration

	// LockTimeout expires connection locks that were never released.
	// 0 means locks never expire.
	LockTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1024 * 1024, // 1MB
		RedialDelay:      2 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.Join(ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Join(ErrInvalidURL, errors.New("scheme must be ws or wss, got "+u.Scheme))
	}
	if u.Host == "" {
		return errors.Join(ErrInvalidURL, errors.New("missing host"))
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RedialDelay <= 0 {
		c.RedialDelay = def.RedialDelay
	}
	return c
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
