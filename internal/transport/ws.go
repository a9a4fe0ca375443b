package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/logger"
)

// wsSubprotocols are the MQTT-over-WebSocket subprotocol names clients
// may offer, per the OASIS MQTT WebSocket transport binding.
var wsSubprotocols = []string{"mqtt", "mqttv3.1"}

var upgrader = websocket.Upgrader{
	Subprotocols:    wsSubprotocols,
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSServer is the WebSocket MQTT listener. It serves plain ws and does not
// terminate TLS, so a "wss" listener built with NewWS runs without TLS.
// Grounded on
// golang-io/mqtt's gorilla/websocket dependency. A gorilla connection is
// message-framed rather than a raw byte stream, so wsConnReader adapts it
// to the bufio.Reader packet.ReadFrame expects.
type WSServer struct {
	addr           string
	router         *broker.Router
	server         *http.Server
	isShuttingdown atomic.Bool
	log            *logger.Logger
}

func NewWS(addr string, router *broker.Router) *WSServer {
	return &WSServer{addr: addr, router: router, log: logger.NewMQTTLogger("transport.ws")}
}

func (srv *WSServer) Addr() string { return srv.addr }

func (srv *WSServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			srv.log.Warn("websocket upgrade failed", logger.ErrorAttr(err))
			return
		}
		go srv.handle(ctx, conn)
	})

	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}
	srv.server = &http.Server{Handler: mux}
	go func() {
		if err := srv.server.Serve(ln); err != nil && !srv.isShuttingdown.Load() {
			srv.log.Warn("websocket server error", logger.ErrorAttr(err))
		}
	}()
	return nil
}

func (srv *WSServer) Stop() error {
	srv.isShuttingdown.Store(true)
	if srv.server != nil {
		return srv.server.Close()
	}
	return nil
}

func (srv *WSServer) handle(ctx context.Context, conn *websocket.Conn) {
	reader := bufio.NewReader(&wsConnReader{conn: conn})
	HandleConnection(ctx, &wsSender{conn: conn}, reader, conn, nil, srv.router, srv.log)
}

// wsSender adapts a gorilla websocket.Conn to broker.Sender, writing each
// MQTT frame as one binary message.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(frame []byte) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *wsSender) Close() error { return s.conn.Close() }

func (s *wsSender) RemoteAddr() string {
	if s.conn.RemoteAddr() == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// wsConnReader turns a sequence of websocket binary messages into a plain
// io.Reader byte stream, so packet.ReadFrame's byte-at-a-time protocol
// parsing works unmodified over WebSocket the same way it does over TCP.
type wsConnReader struct {
	conn *websocket.Conn
	buf  []byte
}

func (r *wsConnReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

var _ io.Reader = (*wsConnReader)(nil)
