package broker

import (
	"context"
	"sync"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/pkg/er"
)

// State is a session's position in the lifecycle of spec.md §4.4:
// Connecting -> Connected -> Disconnecting -> {Offline, Gone}.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateOffline
	StateGone
)

// Sender is the minimal write side of a transport connection a Session
// needs; tcp.go/tls.go/ws.go each provide one so the session actor never
// imports net directly.
type Sender interface {
	Send(frame []byte) error
	Close() error
	RemoteAddr() string
}

// Will is the captured last-will of a connected client, armed at CONNECT
// and published by the Router after WillDelayInterval once the session
// goes Offline or Gone without a normal DISCONNECT.
type Will struct {
	Topic      string
	Payload    []byte
	QoS        packet.QoSLevel
	Retain     bool
	Properties packet.Properties
	DelayUntil time.Time
}

// Session is one client's state machine: packet-id allocation, inflight
// QoS windows, the offline/outbound queue, topic aliases and the actor
// mailbox that serializes all access to this session's mutable state.
// Generalizes the teacher's flat Session struct (internal/broker/session.go)
// into the full machine of spec.md §4.4.
type Session struct {
	ClientID     string
	Version      packet.Version
	CleanStart   bool
	KeepAlive    uint16
	ExpiryInterval uint32 // v5 session_expiry_interval, seconds; 0 = expire on close
	Username     string
	CreatedAt    time.Time

	Will *Will

	mu    sync.Mutex
	state State
	conn  Sender

	inflight *Inflight

	// topicAliasOut maps a topic name to the alias this broker has
	// already told the client to use for it (outbound aliasing).
	topicAliasOut map[string]uint16
	nextAliasOut  uint16
	aliasMax      uint16

	// topicAliasIn maps an inbound alias back to the topic name the
	// client bound it to (inbound aliasing, client -> broker).
	topicAliasIn map[uint16]string

	mailbox chan func()
	done    chan struct{}
	once    sync.Once
}

// NewSession creates a session in the Connecting state. Call Activate once
// the transport handshake (CONNACK) has been sent.
func NewSession(clientID string, v packet.Version, keepAlive uint16, cleanStart bool) *Session {
	return &Session{
		ClientID:      clientID,
		Version:       v,
		CleanStart:    cleanStart,
		KeepAlive:     keepAlive,
		CreatedAt:     time.Now(),
		inflight:      NewInflight(),
		topicAliasOut: make(map[string]uint16),
		topicAliasIn:  make(map[uint16]string),
		mailbox:       make(chan func(), 64),
		done:          make(chan struct{}),
	}
}

// Activate binds the live transport connection and starts the actor
// goroutine, generalizing the teacher's one-goroutine-per-connection
// handleConnection loop (internal/transport/tcp.go) into a reader task
// (owned by the transport) plus this actor task, so Router deliveries
// never block on another goroutine's socket write. Unacknowledged QoS 1/2
// deliveries are not retried here on a timer: spec.md §5 Timeouts resends
// them after reconnect only, which the Router drives once via Do before
// the transport calls Activate.
func (s *Session) Activate(ctx context.Context, conn Sender) {
	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Do enqueues fn to run serialized on this session's actor goroutine. Used
// by the Router to deliver a PUBLISH without taking the session's lock
// itself, and by the transport's reader task to hand off received frames.
func (s *Session) Do(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

// Send writes an already-encoded frame to the client's connection.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &er.Err{Context: "Session.Send", Message: er.ErrSessionNotConnected, Reason: er.ReasonUnspecifiedError}
	}
	return conn.Send(frame)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkOffline transitions a persistent (non-clean-start) session to
// Offline on disconnect, keeping its subscriptions and inflight windows
// until it reconnects or expires. A clean-start session goes straight to
// Gone and the Router discards it immediately.
func (s *Session) MarkOffline() {
	s.mu.Lock()
	s.state = StateOffline
	s.conn = nil
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *Session) MarkGone() {
	s.mu.Lock()
	s.state = StateGone
	s.conn = nil
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// ResolveOutboundAlias returns the alias already assigned to topic, or
// allocates a new one if the client's topic_alias_maximum allows it.
// Returns (false, 0, false) when no alias should be used (v3.1.1, or the
// client advertised topic_alias_maximum == 0).
func (s *Session) ResolveOutboundAlias(topic string) (useAlias bool, alias uint16, omitTopic bool) {
	if s.Version != packet.Version5 || s.aliasMax == 0 {
		return false, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.topicAliasOut[topic]; ok {
		return true, a, true
	}
	if s.nextAliasOut >= s.aliasMax {
		return false, 0, false
	}
	s.nextAliasOut++
	s.topicAliasOut[topic] = s.nextAliasOut
	return true, s.nextAliasOut, false
}

// SetAliasMax records the client's topic_alias_maximum from CONNECT.
func (s *Session) SetAliasMax(max uint16) {
	s.mu.Lock()
	s.aliasMax = max
	s.mu.Unlock()
}

// BindInboundAlias records topic under alias as sent by the client, or
// resolves alias back to a previously bound topic when topic is empty.
func (s *Session) BindInboundAlias(alias uint16, topic string) (string, error) {
	if alias == 0 {
		return topic, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if topic != "" {
		s.topicAliasIn[alias] = topic
		return topic, nil
	}
	bound, ok := s.topicAliasIn[alias]
	if !ok {
		return "", &er.Err{Context: "Session.BindInboundAlias", Message: er.ErrUnknownTopicAlias, Reason: er.ReasonTopicAliasInvalid}
	}
	return bound, nil
}

// Inflight exposes the session's QoS 1/2 window manager.
func (s *Session) Inflight() *Inflight { return s.inflight }
