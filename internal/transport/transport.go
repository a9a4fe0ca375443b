// Package transport adapts byte-stream connections (TCP, TLS, WebSocket)
// to the broker's frame-oriented Session actors. Each adapter only does
// I/O plumbing: read a frame, hand it to the Router, write frames the
// Router or Session hands back.
package transport

import "context"

// Listener is implemented by each concrete transport (tcp.go, tls.go,
// ws.go), generalizing the teacher's single TCPServer
// (internal/transport/tcp.go) into one adapter per wire protocol.
type Listener interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() string
}
