package broker

import (
	"sync"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/pkg/er"
)

const (
	DefaultRetryDelay = 30 * time.Second
	QoS2Timeout       = 5 * time.Minute
)

// OutgoingMessage is a QoS 1/2 PUBLISH this broker sent to a client and is
// still waiting on an ack for.
type OutgoingMessage struct {
	PacketID   uint16
	Topic      string
	Payload    []byte
	QoS        packet.QoSLevel
	Retain     bool
	Properties packet.Properties
	SentAt     time.Time
	Retries    int
}

// incomingQoS2 is an inbound QoS 2 PUBLISH this broker has PUBREC'd but not
// yet received the matching PUBREL for.
type incomingQoS2 struct {
	Topic     string
	Payload   []byte
	Retain    bool
	ReceiveAt time.Time
}

// Inflight is one session's QoS 1/2 bookkeeping: outbound packet-id
// allocation (with a free-list so ids are reused, spec.md §9), the
// outbound retry windows, and the inbound QoS 2 handshake state.
// Generalizes the teacher's broker-global QoSManager
// (internal/broker/qos.go, keyed by client id) into per-session state
// guarded by the session's own lock, per spec.md §5.
type Inflight struct {
	mu sync.Mutex

	nextID   uint16
	freeList []uint16
	inUse    map[uint16]bool

	outQoS1 map[uint16]*OutgoingMessage
	outQoS2 map[uint16]*OutgoingMessage // awaiting PUBREC
	relQoS2 map[uint16]*OutgoingMessage // PUBREC sent, awaiting PUBCOMP

	in2 map[uint16]*incomingQoS2 // inbound QoS2, PUBREC sent, awaiting PUBREL

	receiveMaximum uint16 // 0 = unlimited
}

func NewInflight() *Inflight {
	return &Inflight{
		nextID:  1,
		inUse:   make(map[uint16]bool),
		outQoS1: make(map[uint16]*OutgoingMessage),
		outQoS2: make(map[uint16]*OutgoingMessage),
		relQoS2: make(map[uint16]*OutgoingMessage),
		in2:     make(map[uint16]*incomingQoS2),
	}
}

func (q *Inflight) SetReceiveMaximum(n uint16) {
	q.mu.Lock()
	q.receiveMaximum = n
	q.mu.Unlock()
}

// AllocateID returns a fresh packet id, preferring one from the free-list
// over advancing the counter, and reports whether the receive-maximum
// window has room for another outstanding QoS 1/2 publish.
func (q *Inflight) AllocateID() (uint16, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	outstanding := len(q.outQoS1) + len(q.outQoS2) + len(q.relQoS2)
	if q.receiveMaximum != 0 && outstanding >= int(q.receiveMaximum) {
		return 0, &er.Err{Context: "Inflight.AllocateID", Message: er.ErrReceiveMaximumExceeded, Reason: er.ReasonReceiveMaximumExceeded}
	}

	if n := len(q.freeList); n > 0 {
		id := q.freeList[n-1]
		q.freeList = q.freeList[:n-1]
		q.inUse[id] = true
		return id, nil
	}

	for i := 0; i < 1<<16; i++ {
		id := q.nextID
		q.nextID++
		if q.nextID == 0 {
			q.nextID = 1
		}
		if id != 0 && !q.inUse[id] {
			q.inUse[id] = true
			return id, nil
		}
	}
	return 0, &er.Err{Context: "Inflight.AllocateID", Message: er.ErrPacketIDExhausted, Reason: er.ReasonUnspecifiedError}
}

func (q *Inflight) release(id uint16) {
	delete(q.inUse, id)
	q.freeList = append(q.freeList, id)
}

// AddOutgoing records a QoS 1 or QoS 2 publish the broker just sent.
func (q *Inflight) AddOutgoing(msg *OutgoingMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg.SentAt = time.Now()
	if msg.QoS == packet.QoSAtLeastOnce {
		q.outQoS1[msg.PacketID] = msg
	} else {
		q.outQoS2[msg.PacketID] = msg
	}
}

// HandlePubAck completes a QoS 1 delivery, returning whether packetID was
// actually outstanding.
func (q *Inflight) HandlePubAck(packetID uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.outQoS1[packetID]; ok {
		delete(q.outQoS1, packetID)
		q.release(packetID)
		return true
	}
	return false
}

// HandlePubRec advances a QoS 2 delivery from "awaiting PUBREC" to
// "awaiting PUBCOMP" and returns the PUBREL to send.
func (q *Inflight) HandlePubRec(packetID uint16) (*packet.AckPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.outQoS2[packetID]
	if !ok {
		// Re-sending PUBREL for an id already moved past this stage is
		// valid MQTT behavior on a duplicate PUBREC.
		if _, ok := q.relQoS2[packetID]; ok {
			return packet.NewAck(packet.PUBREL, packetID), true
		}
		return nil, false
	}
	delete(q.outQoS2, packetID)
	q.relQoS2[packetID] = msg
	return packet.NewAck(packet.PUBREL, packetID), true
}

// HandlePubComp completes a QoS 2 delivery.
func (q *Inflight) HandlePubComp(packetID uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.relQoS2[packetID]; ok {
		delete(q.relQoS2, packetID)
		q.release(packetID)
		return true
	}
	return false
}

// HandleIncomingPublish records an inbound QoS 2 PUBLISH and reports
// whether packetID was already recorded (dup). The caller sends PUBREC
// either way and re-delivers nothing to subscribers for a duplicate.
func (q *Inflight) HandleIncomingPublish(packetID uint16, topic string, payload []byte, retain bool) (dup bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.in2[packetID]; ok {
		return true
	}
	q.in2[packetID] = &incomingQoS2{Topic: topic, Payload: payload, Retain: retain, ReceiveAt: time.Now()}
	return false
}

// HandleIncomingPubRel releases the inbound QoS 2 state for packetID.
func (q *Inflight) HandleIncomingPubRel(packetID uint16) {
	q.mu.Lock()
	delete(q.in2, packetID)
	q.mu.Unlock()
}

// AllOutstanding returns every outgoing QoS 1/2 message still awaiting an
// ack, bumping its retry count and SentAt; the DUP flag is set by the
// caller when it re-sends the message. Unlike a periodic
// sweep, this keeps the message in flight rather than retransmitting it:
// spec.md §5 Timeouts resends unacknowledged QoS>0 deliveries after
// reconnect only, never while the connection stays up, so this is meant
// to be called once, when a non-clean-start session resumes.
func (q *Inflight) AllOutstanding(now time.Time) []*OutgoingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	due := make([]*OutgoingMessage, 0, len(q.outQoS1)+len(q.outQoS2)+len(q.relQoS2))
	for _, m := range q.outQoS1 {
		m.Retries++
		m.SentAt = now
		due = append(due, m)
	}
	for _, m := range q.outQoS2 {
		m.Retries++
		m.SentAt = now
		due = append(due, m)
	}
	for _, m := range q.relQoS2 {
		m.Retries++
		m.SentAt = now
		due = append(due, m)
	}
	return due
}

// Count reports the number of outstanding QoS 1/2 publishes (both
// directions).
func (q *Inflight) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outQoS1) + len(q.outQoS2) + len(q.relQoS2) + len(q.in2)
}
