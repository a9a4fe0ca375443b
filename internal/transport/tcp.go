package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/internal/plugin"
	"github.com/pyr33x/goqtt/pkg/er"
)

// TCPServer is the plain-TCP MQTT listener. Generalizes the teacher's
// TCPServer (internal/transport/tcp.go), which hand-rolled both framing
// and session bring-up in one handleConnection function, into pure
// byte-stream plumbing: ReadFrame/Decode produce a packet.Packet, and
// HandleConnection below moves all protocol/session logic to
// internal/broker.Router so TLS and WebSocket listeners can share it.
type TCPServer struct {
	addr               string
	listener           net.Listener
	router             *broker.Router
	isShuttingdown     atomic.Bool
	maxConnections     int32
	currentConnections atomic.Int32
	log                *logger.Logger
}

func NewTCP(addr string, router *broker.Router, maxConnections int) *TCPServer {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	return &TCPServer{
		addr:           addr,
		router:         router,
		maxConnections: int32(maxConnections),
		log:            logger.NewMQTTLogger("transport.tcp"),
	}
}

func (srv *TCPServer) Addr() string { return srv.addr }

func (srv *TCPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}
	srv.listener = listener
	go srv.accept(ctx)
	return nil
}

func (srv *TCPServer) Stop() error {
	srv.isShuttingdown.Store(true)
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

func (srv *TCPServer) accept(ctx context.Context) {
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
			if srv.currentConnections.Load() >= srv.maxConnections {
				conn.Write(packet.NewConnAck(packet.Version311, false, er.ReasonServerBusy).Encode(packet.Version311))
				conn.Close()
				continue
			}
			srv.currentConnections.Add(1)
			go func() {
				defer srv.currentConnections.Add(-1)
				HandleConnection(ctx, &netSender{conn: conn}, bufio.NewReader(conn), conn, conn.SetReadDeadline, srv.router, srv.log)
			}()
		}
	}
}

// HandleConnection runs the CONNECT handshake and packet loop for one
// stream-oriented connection, shared by tcp.go, tls.go and ws.go.
// setDeadline arms the keepalive read timeout on each frame read; pass
// nil for transports that cannot express one (e.g. a websocket wrapper
// that already enforces its own timeouts).
func HandleConnection(ctx context.Context, sender broker.Sender, reader *bufio.Reader, closer io.Closer, setDeadline func(time.Time) error, router *broker.Router, log *logger.Logger) {
	defer closer.Close()

	remoteAddr := sender.RemoteAddr()

	firstFrame, err := packet.ReadFrame(reader)
	if err != nil {
		return
	}
	cp, err := packet.ParseConnect(firstFrame)
	if err != nil {
		e, _ := er.AsErr(err)
		reason := er.ReasonMalformedPacket
		if e != nil {
			reason = e.Reason
		}
		sender.Send(packet.NewConnAck(packet.Version311, false, reason).Encode(packet.Version311))
		return
	}
	v := cp.Version()

	if err := router.CheckConnect(ctx, plugin.ConnectInfo{
		ClientID: cp.ClientID, Username: stringOrEmpty(cp.Username), Password: cp.Password, RemoteAddr: remoteAddr,
	}); err != nil {
		e, _ := er.AsErr(err)
		reason := er.ReasonBadUsernameOrPassword
		if e != nil {
			reason = e.Reason
		}
		sender.Send(packet.NewConnAck(v, false, reason).Encode(v))
		return
	}

	sess, ack, offline := router.Connect(ctx, cp, remoteAddr)
	if err := sender.Send(ack.Encode(v)); err != nil {
		return
	}
	log.LogClientConnection(cp.ClientID, remoteAddr, "connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.Activate(connCtx, sender)
	router.DrainOffline(sess, offline)

	// Use the session's negotiated keepalive (capped server-side), not the
	// client's raw request, per spec.md §4.4.
	keepAlive := time.Duration(sess.KeepAlive) * time.Second * 3 / 2
	abnormalClose := true

	for {
		if keepAlive > 0 && setDeadline != nil {
			_ = setDeadline(time.Now().Add(keepAlive))
		}
		frame, err := packet.ReadFrame(reader)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Debug("keepalive timeout", logger.ClientID(cp.ClientID))
				if v == packet.Version5 {
					sender.Send(packet.NewDisconnect(er.ReasonKeepAliveTimeout).Encode(v))
				}
			} else if !errors.Is(err, io.EOF) {
				log.Debug("read error", logger.ClientID(cp.ClientID), logger.ErrorAttr(err))
			}
			break
		}

		pkt, err := packet.Decode(v, frame)
		if err != nil {
			log.Debug("decode error", logger.ClientID(cp.ClientID), logger.ErrorAttr(err))
			if v == packet.Version5 {
				e, _ := er.AsErr(err)
				reason := er.ReasonMalformedPacket
				if e != nil {
					reason = e.Reason
				}
				sender.Send(packet.NewDisconnect(reason).Encode(v))
			}
			break
		}

		if stop := dispatch(connCtx, router, sess, pkt, log); stop {
			if pkt.Type() == packet.DISCONNECT {
				abnormalClose = false
			}
			break
		}
	}

	router.Disconnect(ctx, sess, abnormalClose, time.Now())
	log.LogClientConnection(cp.ClientID, remoteAddr, "disconnected", logger.Bool("abnormal", abnormalClose))
}

// dispatch handles one decoded packet on behalf of sess, returning true
// when the connection should close (DISCONNECT or a fatal protocol error).
func dispatch(ctx context.Context, router *broker.Router, sess *broker.Session, pkt packet.Packet, log *logger.Logger) bool {
	switch p := pkt.(type) {
	case *packet.PublishPacket:
		topic, err := sess.BindInboundAlias(aliasOf(p), p.Topic)
		if err != nil {
			return true
		}
		if err := router.CheckPublish(ctx, plugin.PublishInfo{
			ClientID: sess.ClientID, Username: sess.Username, Topic: topic, QoS: p.QoS, Retain: p.Retain,
		}); err != nil {
			if p.QoS == packet.QoSAtLeastOnce {
				sess.Send(packet.NewAckReason(packet.PUBACK, p.PacketID, er.ReasonNotAuthorized).Encode(sess.Version))
			}
			return false
		}

		switch p.QoS {
		case packet.QoSAtMostOnce:
			router.Publish(ctx, sess.ClientID, topic, p, time.Now())
		case packet.QoSAtLeastOnce:
			router.Publish(ctx, sess.ClientID, topic, p, time.Now())
			sess.Send(packet.NewAck(packet.PUBACK, p.PacketID).Encode(sess.Version))
		case packet.QoSExactlyOnce:
			dup := sess.Inflight().HandleIncomingPublish(p.PacketID, topic, p.Payload, p.Retain)
			if !dup {
				router.Publish(ctx, sess.ClientID, topic, p, time.Now())
			}
			sess.Send(packet.NewAck(packet.PUBREC, p.PacketID).Encode(sess.Version))
		}

	case *packet.AckPacket:
		switch p.Kind {
		case packet.PUBACK:
			router.HandlePubAck(sess, p)
		case packet.PUBREC:
			rel := router.HandlePubRec(sess, p)
			sess.Send(rel.Encode(sess.Version))
		case packet.PUBREL:
			sess.Inflight().HandleIncomingPubRel(p.PacketID)
			sess.Send(packet.NewAck(packet.PUBCOMP, p.PacketID).Encode(sess.Version))
		case packet.PUBCOMP:
			router.HandlePubComp(sess, p)
		}

	case *packet.SubscribePacket:
		denied := make([]bool, len(p.Filters))
		allDenied := true
		for i, f := range p.Filters {
			if err := router.CheckSubscribe(ctx, plugin.SubscribeInfo{
				ClientID: sess.ClientID, Username: sess.Username, Filter: f.Topic, QoS: f.QoS,
			}); err != nil {
				denied[i] = true
				continue
			}
			allDenied = false
		}

		// Grant every filter the ACL allows and set each denied filter's own
		// reason to NotAuthorized, preserving request order, per spec.md
		// §4.4 — a SUBACK's code count must always match the SUBSCRIBE's
		// filter count.
		var codes []byte
		if allDenied {
			codes = make([]byte, len(p.Filters))
			for i := range codes {
				codes[i] = packet.RCNotAuthorized
			}
		} else {
			granted := make([]packet.SubscribeFilter, 0, len(p.Filters))
			grantedIdx := make([]int, 0, len(p.Filters))
			for i, f := range p.Filters {
				if denied[i] {
					continue
				}
				granted = append(granted, f)
				grantedIdx = append(grantedIdx, i)
			}
			grantedCodes := router.Subscribe(ctx, sess, &packet.SubscribePacket{
				PacketID: p.PacketID, Properties: p.Properties, Filters: granted,
			})
			codes = make([]byte, len(p.Filters))
			for i := range codes {
				codes[i] = packet.RCNotAuthorized
			}
			for j, idx := range grantedIdx {
				codes[idx] = grantedCodes[j]
			}
		}
		sess.Send((&packet.SubAckPacket{PacketID: p.PacketID, ReturnCodes: codes}).Encode(sess.Version))

	case *packet.UnsubscribePacket:
		codes := router.Unsubscribe(ctx, sess, p)
		sess.Send((&packet.UnsubAckPacket{PacketID: p.PacketID, ReturnCodes: codes}).Encode(sess.Version))

	case *packet.PingReqPacket:
		sess.Send((&packet.PingRespPacket{}).Encode(sess.Version))

	case *packet.DisconnectPacket:
		return true

	default:
		log.Warn("unhandled packet type", logger.String("type", fmt.Sprint(pkt.Type())))
	}
	return false
}

func aliasOf(p *packet.PublishPacket) uint16 {
	if p.Properties.TopicAlias != nil {
		return *p.Properties.TopicAlias
	}
	return 0
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
