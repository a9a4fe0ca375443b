package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/logger"
)

// TLSServer wraps TCPServer's accept loop with crypto/tls, generalizing
// the teacher's TCP-only listener (internal/transport/tcp.go) to the
// mqtts listener spec.md §6 lists.
type TLSServer struct {
	addr           string
	router         *broker.Router
	tlsConfig      *tls.Config
	listener       net.Listener
	isShuttingdown atomic.Bool
	log            *logger.Logger
}

func NewTLS(addr string, router *broker.Router, cfg *tls.Config) *TLSServer {
	return &TLSServer{addr: addr, router: router, tlsConfig: cfg, log: logger.NewMQTTLogger("transport.tls")}
}

func (srv *TLSServer) Addr() string { return srv.addr }

func (srv *TLSServer) Start(ctx context.Context) error {
	listener, err := tls.Listen("tcp", srv.addr, srv.tlsConfig)
	if err != nil {
		return err
	}
	srv.listener = listener
	go srv.accept(ctx)
	return nil
}

func (srv *TLSServer) Stop() error {
	srv.isShuttingdown.Store(true)
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

func (srv *TLSServer) accept(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := srv.listener.Accept()
			if err != nil {
				if srv.isShuttingdown.Load() {
					return
				}
				srv.log.Warn("accept error", logger.ErrorAttr(err))
				continue
			}
			go HandleConnection(ctx, &netSender{conn: conn}, bufio.NewReader(conn), conn, conn.SetReadDeadline, srv.router, srv.log)
		}
	}
}
