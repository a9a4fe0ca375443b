package broker

import (
	"sync"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
)

// RetainedMessage is the last retained PUBLISH seen for a topic.
type RetainedMessage struct {
	Topic      string
	Payload    []byte
	QoS        packet.QoSLevel
	Properties packet.Properties
	StoredAt   time.Time
	ExpiresAt  time.Time // zero means "never"
}

func (m *RetainedMessage) expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// RetainedStore holds one retained message per topic, generalizing the
// teacher's inline map+mutex in broker.go into its own type with
// message-expiry-interval support (v5).
type RetainedStore struct {
	mu   sync.RWMutex
	msgs map[string]*RetainedMessage
}

func NewRetainedStore() *RetainedStore {
	return &RetainedStore{msgs: make(map[string]*RetainedMessage)}
}

// Store records or clears the retained message for p.Topic. An empty
// payload clears it, per MQTT §3.3.1.3.
func (s *RetainedStore) Store(p *packet.PublishPacket, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p.Payload) == 0 {
		delete(s.msgs, p.Topic)
		return
	}

	msg := &RetainedMessage{
		Topic:      p.Topic,
		Payload:    append([]byte(nil), p.Payload...),
		QoS:        p.QoS,
		Properties: p.Properties,
		StoredAt:   now,
	}
	if p.Properties.MessageExpiryInterval != nil {
		msg.ExpiresAt = now.Add(time.Duration(*p.Properties.MessageExpiryInterval) * time.Second)
	}
	s.msgs[p.Topic] = msg
}

// Match returns every live retained message whose topic matches filter.
func (s *RetainedStore) Match(filter string, now time.Time) []*RetainedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*RetainedMessage
	for topic, msg := range s.msgs {
		if msg.expired(now) {
			continue
		}
		if packet.TopicMatches(filter, topic) {
			out = append(out, msg)
		}
	}
	return out
}

// Purge removes every retained message whose expiry time is before now.
// Intended to be driven by a periodic control-plane timer.
func (s *RetainedStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for topic, msg := range s.msgs {
		if msg.expired(now) {
			delete(s.msgs, topic)
			n++
		}
	}
	return n
}

func (s *RetainedStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
