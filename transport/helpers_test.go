package transport

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
	"github.com/vinayprograms/mediatorkit/taskmanager"
)

const waitFor = 2 * time.Second

// mediator is a test server that hands out every accepted socket.
type mediator struct {
	server *httptest.Server
	conns  chan *websocket.Conn
}

func newMediator(t *testing.T) *mediator {
	t.Helper()
	m := &mediator{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.conns <- conn
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mediator) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mediator) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-m.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("no connection from client")
		return nil
	}
}

type delivery struct {
	msg  protocol.InboundMessage
	lock taskmanager.ConnectionLock
}

type chanSink chan delivery

func (s chanSink) ProcessInboundMessage(msg protocol.InboundMessage, lock taskmanager.ConnectionLock) {
	s <- delivery{msg: msg, lock: lock}
}

type recordingSession struct {
	mu      sync.Mutex
	started int
	ended   chan string
	startCh chan struct{}
}

func newRecordingSession() *recordingSession {
	return &recordingSession{ended: make(chan string, 8), startCh: make(chan struct{}, 8)}
}

func (s *recordingSession) SessionStarted(conn taskmanager.Connection) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	s.startCh <- struct{}{}
	return nil
}

func (s *recordingSession) SessionEnded(reason string) {
	s.ended <- reason
}

func (s *recordingSession) awaitStart(t *testing.T) {
	t.Helper()
	select {
	case <-s.startCh:
	case <-time.After(waitFor):
		t.Fatal("session not started")
	}
}

func (s *recordingSession) awaitEnd(t *testing.T) string {
	t.Helper()
	select {
	case reason := <-s.ended:
		return reason
	case <-time.After(waitFor):
		t.Fatal("session not ended")
		return ""
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.RedialDelay = 10 * time.Millisecond
	cfg.PingInterval = 0
	return cfg
}

// startConnection runs c until the test ends.
func startConnection(t *testing.T, c *WebSocketConnection) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newConnection(t *testing.T, cfg Config, sink Sink, session SessionHandler) *WebSocketConnection {
	t.Helper()
	c, err := NewWebSocketConnection(cfg, sink, session, WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	return c
}

func reflectAckFrame(id protocol.ReflectID, ts uint64) []byte {
	b := make([]byte, 4+16)
	b[0] = byte(protocol.D2mReflectAck)
	binary.LittleEndian.PutUint32(b[8:12], uint32(id))
	binary.LittleEndian.PutUint64(b[12:20], ts)
	return b
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitFor))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", typ)
	}
	return data
}
