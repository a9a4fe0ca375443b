// Package plugin defines the broker's pluggable hook contract, generalizing
// the teacher's internal/auth.Store.Authenticate (a single SQLite-backed
// username/password check) into one hook among several a deployment can
// register, per spec.md §4.8.
package plugin

import (
	"context"

	"github.com/pyr33x/goqtt/internal/packet"
)

// ConnectInfo is what a Hook's OnConnect sees about an incoming client.
type ConnectInfo struct {
	ClientID   string
	Username   string
	Password   []byte
	RemoteAddr string
}

// PublishInfo is what a Hook's OnPublish sees about an outgoing publish.
type PublishInfo struct {
	ClientID   string
	Username   string
	RemoteAddr string
	Topic      string
	QoS        packet.QoSLevel
	Retain     bool
}

// SubscribeInfo is what a Hook's OnSubscribe sees about a subscribe
// request, one call per requested filter.
type SubscribeInfo struct {
	ClientID   string
	Username   string
	RemoteAddr string
	Filter     string
	QoS        packet.QoSLevel
}

// Hook is implemented by anything the broker consults for authentication
// or authorization decisions. A plugin returning a non-nil error denies
// the action; the broker treats any plugin error as deny, matching the
// teacher's auth.Store.Authenticate returning a generic error on any SQL
// fault (spec.md §7).
type Hook interface {
	OnConnect(ctx context.Context, info ConnectInfo) error
	OnPublish(ctx context.Context, info PublishInfo) error
	OnSubscribe(ctx context.Context, info SubscribeInfo) error
}

// Bus runs a chain of Hooks; every hook must allow an action for the Bus
// to allow it.
type Bus struct {
	hooks []Hook
}

func NewBus(hooks ...Hook) *Bus {
	return &Bus{hooks: hooks}
}

func (b *Bus) OnConnect(ctx context.Context, info ConnectInfo) error {
	for _, h := range b.hooks {
		if err := h.OnConnect(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) OnPublish(ctx context.Context, info PublishInfo) error {
	for _, h := range b.hooks {
		if err := h.OnPublish(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) OnSubscribe(ctx context.Context, info SubscribeInfo) error {
	for _, h := range b.hooks {
		if err := h.OnSubscribe(ctx, info); err != nil {
			return err
		}
	}
	return nil
}
