// Package transport connects the task manager to the mediator server over
// WebSocket.
//
// # Overview
//
// WebSocketConnection implements taskmanager.Connection. Run dials the
// mediator, announces every established session to a SessionHandler and
// hands each decoded inbound frame to a Sink together with a connection
// lock. When a session ends it redials, after the delay requested through
// RestartConnection or after Config.RedialDelay.
//
// # Usage
//
//	mgr, _ := taskmanager.New(taskmanager.DefaultConfig())
//	conn, _ := transport.NewWebSocketConnection(cfg, mgr, transport.ManagerSession{
//	    Manager:   mgr,
//	    Processor: processor,
//	})
//	go conn.Run(ctx)
//
// # Idle sessions
//
// With Config.IdleTimeout set, a session that has seen no frames in either
// direction for that long is closed, unless a connection lock is still
// held by a message that has not been routed yet.
//
// # Thread Safety
//
// SendOutbound and RestartConnection are safe for concurrent use.
// RestartConnection never blocks on the session it ends.
package transport
