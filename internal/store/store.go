// Package store defines the persistence contract for session state,
// generalizing the teacher's Broker.Store/Get/Delete
// (internal/broker/session.go, a copy-on-write atomic.Value map) into an
// interface so the broker can run against an in-memory registry or a
// durable one without changing router/session code.
package store

import (
	"context"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
)

// Record is the part of a session kept across a disconnect when
// CleanStart is false: identity, protocol version, expiry interval,
// subscriptions and timestamps. It holds no will; offline messages are
// kept separately through EnqueueOffline/DrainOffline.
type Record struct {
	ClientID       string
	Username       string
	Version        packet.Version
	ExpiryInterval uint32
	Subscriptions  []Subscription
	CreatedAt      time.Time
	LastSeen       time.Time
}

// Subscription is the durable shape of a broker.Subscription, independent
// of the in-memory trie representation.
type Subscription struct {
	Filter            string
	QoS               packet.QoSLevel
	NoLocal           bool
	RetainAsPublished bool
	SubscriptionID    uint32
	ShareGroup        string
}

// OfflineMessage is a QoS 1/2 publish queued for a client that is
// currently Offline, to be drained on reconnect.
type OfflineMessage struct {
	Topic      string
	Payload    []byte
	QoS        packet.QoSLevel
	Retain     bool
	Properties packet.Properties
	QueuedAt   time.Time
}

// SessionStore is the durable-state contract of spec.md §6.
type SessionStore interface {
	LoadSession(ctx context.Context, clientID string) (*Record, bool, error)
	SaveSession(ctx context.Context, rec *Record) error
	DeleteSession(ctx context.Context, clientID string) error

	EnqueueOffline(ctx context.Context, clientID string, msg OfflineMessage) error
	DrainOffline(ctx context.Context, clientID string) ([]OfflineMessage, error)
}
