package transport

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/internal/plugin"
	"github.com/pyr33x/goqtt/internal/store/memory"
)

// denySubscribeHook denies SUBSCRIBE for any filter equal to denied, and
// allows everything else, standing in for an ACL plugin in router-level
// tests.
type denySubscribeHook struct {
	denied string
}

func (h *denySubscribeHook) OnConnect(context.Context, plugin.ConnectInfo) error { return nil }
func (h *denySubscribeHook) OnPublish(context.Context, plugin.PublishInfo) error { return nil }
func (h *denySubscribeHook) OnSubscribe(_ context.Context, info plugin.SubscribeInfo) error {
	if info.Filter == h.denied {
		return &mockDenyErr{}
	}
	return nil
}

type mockDenyErr struct{}

func (*mockDenyErr) Error() string { return "not authorized" }

// buildConnectFrame hand-assembles a minimal v3.1.1 CONNECT frame,
// mirroring internal/packet's own test helper of the same name (unexported
// there, so this package needs its own).
func buildConnectFrame(clientID string) []byte {
	var body []byte
	body = append(body, packet.EncodeString("MQTT")...)
	body = append(body, byte(packet.Version311))
	body = append(body, 0x02) // CleanStart
	body = append(body, 0x00, 0x1E)
	body = append(body, packet.EncodeString(clientID)...)

	out := []byte{byte(packet.CONNECT)}
	out = append(out, packet.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{})
}

// TestScenarioSubscribeACLDenyPreservesReturnCodeCount covers spec.md §8
// S4: a SUBSCRIBE naming several filters where one is denied by the ACL
// plugin must still produce a SUBACK with one reason code per requested
// filter, in order, granting the allowed filters and reporting
// NotAuthorized only for the denied one.
func TestScenarioSubscribeACLDenyPreservesReturnCodeCount(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	router := broker.New(memory.New(), broker.Options{
		ReceiveMaximum: 32,
		Plugins:        plugin.NewBus(&denySubscribeHook{denied: "secret/x"}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		HandleConnection(ctx, &netSender{conn: serverConn}, bufio.NewReader(serverConn), serverConn, serverConn.SetReadDeadline, router, testLogger())
	}()

	clientConn.Write(buildConnectFrame("acl-client"))

	clientReader := bufio.NewReader(clientConn)
	connAckFrame, err := packet.ReadFrame(clientReader)
	if err != nil {
		t.Fatalf("read CONNACK: %v", err)
	}
	if packet.Type(connAckFrame[0]&0xF0) != packet.CONNACK {
		t.Fatalf("expected CONNACK, got frame type %x", connAckFrame[0])
	}

	sub := &packet.SubscribePacket{
		PacketID: 1,
		Filters: []packet.SubscribeFilter{
			{Topic: "a/b", QoS: packet.QoSAtMostOnce},
			{Topic: "secret/x", QoS: packet.QoSAtMostOnce},
			{Topic: "c/d", QoS: packet.QoSAtMostOnce},
		},
	}
	clientConn.Write(sub.Encode(packet.Version311))

	subAckFrame, err := packet.ReadFrame(clientReader)
	if err != nil {
		t.Fatalf("read SUBACK: %v", err)
	}
	subAck, err := packet.ParseSubAck(subAckFrame, packet.Version311)
	if err != nil {
		t.Fatalf("ParseSubAck: %v", err)
	}

	if len(subAck.ReturnCodes) != 3 {
		t.Fatalf("ReturnCodes = %v, want 3 entries (one per requested filter)", subAck.ReturnCodes)
	}
	if subAck.ReturnCodes[0] == packet.RCNotAuthorized {
		t.Errorf("filter 0 (a/b) should be granted, got NotAuthorized")
	}
	if subAck.ReturnCodes[1] != packet.RCNotAuthorized {
		t.Errorf("filter 1 (secret/x) = 0x%02x, want NotAuthorized", subAck.ReturnCodes[1])
	}
	if subAck.ReturnCodes[2] == packet.RCNotAuthorized {
		t.Errorf("filter 2 (c/d) should be granted, got NotAuthorized")
	}

	clientConn.Close()
	<-done
}
