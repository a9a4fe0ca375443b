package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/internal/store/memory"
)

// fakeSender is an in-memory broker.Sender capturing every frame sent to
// it, standing in for a real transport connection in router-level tests.
type fakeSender struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	version packet.Version // protocol used to parse frames; zero means v3.1.1
}

func (f *fakeSender) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) RemoteAddr() string { return "test" }

func (f *fakeSender) publishes(t *testing.T) []*packet.PublishPacket {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.version
	if v == 0 {
		v = packet.Version311
	}
	var out []*packet.PublishPacket
	for _, frame := range f.frames {
		if packet.Type(frame[0]&0xF0) != packet.PUBLISH {
			continue
		}
		pp, err := packet.ParsePublish(frame, v)
		if err != nil {
			t.Fatalf("ParsePublish: %v", err)
		}
		out = append(out, pp)
	}
	return out
}

func connectSession(ctx context.Context, t *testing.T, r *Router, clientID string, cleanStart bool) (*Session, *fakeSender) {
	t.Helper()
	cp := &packet.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: byte(packet.Version311),
		ClientID:      clientID,
		CleanStart:    cleanStart,
		KeepAlive:     30,
	}
	sess, _, offline := r.Connect(ctx, cp, "127.0.0.1:0")
	sender := &fakeSender{}
	sess.Activate(ctx, sender)
	r.DrainOffline(sess, offline)
	return sess, sender
}

func waitForFrames(t *testing.T, sender *fakeSender, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		got := len(sender.frames)
		sender.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
}

// TestScenarioBasicPublishSubscribe covers spec.md §8 S1: a publish
// matching more than one of a single client's subscriptions (here, an
// exact filter and an overlapping wildcard filter) arrives as one merged
// PUBLISH stamped with every matched subscription's id, not one PUBLISH
// per matched subscription.
func TestScenarioBasicPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), Options{ReceiveMaximum: 32})

	// Subscription identifiers exist on the wire only in MQTT 5, so the
	// subscriber connects as v5 and its frames are parsed as v5.
	cp := &packet.ConnectPacket{
		ProtocolName: "MQTT", ProtocolLevel: byte(packet.Version5),
		ClientID: "subscriber", CleanStart: true, KeepAlive: 30,
	}
	sub, _, offline := r.Connect(ctx, cp, "127.0.0.1:0")
	sender := &fakeSender{version: packet.Version5}
	sub.Activate(ctx, sender)
	r.DrainOffline(sub, offline)
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters:    []packet.SubscribeFilter{{Topic: "a/1", QoS: packet.QoSAtLeastOnce}},
		Properties: packet.Properties{SubscriptionIdentifiers: []uint32{1}},
	})
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters:    []packet.SubscribeFilter{{Topic: "a/+", QoS: packet.QoSAtLeastOnce}},
		Properties: packet.Properties{SubscriptionIdentifiers: []uint32{2}},
	})

	r.Publish(ctx, "", "a/1", &packet.PublishPacket{
		Topic: "a/1", Payload: []byte("21.5"), QoS: packet.QoSAtLeastOnce,
	}, time.Now())

	waitForFrames(t, sender, 1)
	time.Sleep(20 * time.Millisecond)
	got := sender.publishes(t)
	if len(got) != 1 || string(got[0].Payload) != "21.5" {
		t.Fatalf("expected exactly one merged PUBLISH, got %+v", got)
	}
	if ids := got[0].Properties.SubscriptionIdentifiers; len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("SubscriptionIdentifiers = %v, want [1 2]", ids)
	}
}

// TestScenarioRetainedDeliveryOnSubscribe checks that a retained message
// is replayed to a client that subscribes after it was published.
func TestScenarioRetainedDeliveryOnSubscribe(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), Options{ReceiveMaximum: 32})

	r.Publish(ctx, "", "sensors/room1/temp", &packet.PublishPacket{
		Topic: "sensors/room1/temp", Payload: []byte("21.5"), QoS: packet.QoSAtMostOnce, Retain: true,
	}, time.Now())

	sub, sender := connectSession(ctx, t, r, "late-subscriber", true)
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "sensors/+/temp", QoS: packet.QoSAtMostOnce}},
	})

	waitForFrames(t, sender, 1)
	got := sender.publishes(t)
	if len(got) != 1 || !got[0].Retain {
		t.Fatalf("expected a retained replay, got %+v", got)
	}
}

// TestScenarioPersistentSessionQueuesWhileOffline covers the offline-queue
// part of spec.md §8 S2: a QoS 1 publish to an offline persistent session is queued and delivered
// on reconnect.
func TestScenarioPersistentSessionQueuesWhileOffline(t *testing.T) {
	ctx := context.Background()
	sessionStore := memory.New()
	r := New(sessionStore, Options{ReceiveMaximum: 32})

	sub, _ := connectSession(ctx, t, r, "persistent", false)
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "a/b", QoS: packet.QoSAtLeastOnce}},
	})
	r.Disconnect(ctx, sub, false, time.Now())

	r.Publish(ctx, "", "a/b", &packet.PublishPacket{
		Topic: "a/b", Payload: []byte("queued"), QoS: packet.QoSAtLeastOnce,
	}, time.Now())

	cp := &packet.ConnectPacket{
		ProtocolName: "MQTT", ProtocolLevel: byte(packet.Version311),
		ClientID: "persistent", CleanStart: false, KeepAlive: 30,
	}
	sess2, ack, offline := r.Connect(ctx, cp, "127.0.0.1:0")
	if !ack.SessionPresent {
		t.Fatal("expected SessionPresent=true on reconnect with queued state")
	}
	sender2 := &fakeSender{}
	sess2.Activate(ctx, sender2)
	r.DrainOffline(sess2, offline)

	waitForFrames(t, sender2, 1)
	got := sender2.publishes(t)
	if len(got) != 1 || string(got[0].Payload) != "queued" {
		t.Fatalf("expected the queued message to be delivered on reconnect, got %+v", got)
	}
}

// TestScenarioReconnectPreservesCreatedAt covers the session record's
// CreatedAt surviving across a reconnect instead of being reset to the
// time of the most recent persistSubscriptions call.
func TestScenarioReconnectPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	sessionStore := memory.New()
	r := New(sessionStore, Options{ReceiveMaximum: 32})

	sub, _ := connectSession(ctx, t, r, "durable", false)
	firstCreatedAt := sub.CreatedAt
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "a/b", QoS: packet.QoSAtMostOnce}},
	})
	r.Disconnect(ctx, sub, false, time.Now())

	time.Sleep(5 * time.Millisecond)

	cp := &packet.ConnectPacket{
		ProtocolName: "MQTT", ProtocolLevel: byte(packet.Version311),
		ClientID: "durable", CleanStart: false, KeepAlive: 30,
	}
	sess2, ack, _ := r.Connect(ctx, cp, "127.0.0.1:0")
	if !ack.SessionPresent {
		t.Fatal("expected SessionPresent=true on reconnect")
	}
	if !sess2.CreatedAt.Equal(firstCreatedAt) {
		t.Fatalf("CreatedAt = %v after reconnect, want the original %v", sess2.CreatedAt, firstCreatedAt)
	}

	r.Subscribe(ctx, sess2, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "c/d", QoS: packet.QoSAtMostOnce}},
	})
	rec, ok, err := sessionStore.LoadSession(ctx, "durable")
	if err != nil || !ok {
		t.Fatalf("LoadSession: ok=%v err=%v", ok, err)
	}
	if !rec.CreatedAt.Equal(firstCreatedAt) {
		t.Fatalf("persisted CreatedAt = %v, want the original %v", rec.CreatedAt, firstCreatedAt)
	}
}

// TestScenarioNoLocalSuppressesSelfDelivery checks that a
// publisher subscribed to its own topic with NoLocal does not receive its
// own publish back.
func TestScenarioNoLocalSuppressesSelfDelivery(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), Options{ReceiveMaximum: 32})

	pub, sender := connectSession(ctx, t, r, "publisher", true)
	r.Subscribe(ctx, pub, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "a/b", QoS: packet.QoSAtMostOnce, NoLocal: true}},
	})

	r.Publish(ctx, "publisher", "a/b", &packet.PublishPacket{
		Topic: "a/b", Payload: []byte("echo"), QoS: packet.QoSAtMostOnce,
	}, time.Now())

	time.Sleep(20 * time.Millisecond)
	if got := sender.publishes(t); len(got) != 0 {
		t.Fatalf("expected NoLocal to suppress self-delivery, got %+v", got)
	}
}

// TestScenarioDollarTopicIsolation checks that $SYS/# topics are
// never matched by a bare '#' subscription.
func TestScenarioDollarTopicIsolation(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), Options{ReceiveMaximum: 32})

	sub, sender := connectSession(ctx, t, r, "wildcard-sub", true)
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "#", QoS: packet.QoSAtMostOnce}},
	})

	r.Publish(ctx, "", "$SYS/broker/uptime", &packet.PublishPacket{
		Topic: "$SYS/broker/uptime", Payload: []byte("42"), QoS: packet.QoSAtMostOnce,
	}, time.Now())

	time.Sleep(20 * time.Millisecond)
	if got := sender.publishes(t); len(got) != 0 {
		t.Fatalf("expected a bare '#' to never receive $SYS traffic, got %+v", got)
	}
}

// TestScenarioCleanStartDropsSubscriptionsOnDisconnect checks that a
// clean-start session's subscriptions and retained offline state do
// not survive disconnect.
func TestScenarioCleanStartDropsSubscriptionsOnDisconnect(t *testing.T) {
	ctx := context.Background()
	sessionStore := memory.New()
	r := New(sessionStore, Options{ReceiveMaximum: 32})

	sub, _ := connectSession(ctx, t, r, "ephemeral", true)
	r.Subscribe(ctx, sub, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "a/b", QoS: packet.QoSAtMostOnce}},
	})
	r.Disconnect(ctx, sub, false, time.Now())

	if _, ok, _ := sessionStore.LoadSession(ctx, "ephemeral"); ok {
		t.Fatal("expected no durable record for a clean-start session")
	}
	if n := r.matcher.Count(); n != 0 {
		t.Fatalf("expected the matcher to have no leftover subscriptions, got %d", n)
	}
}

// TestScenarioWillFiresAfterDelay covers spec.md §8 S3: a will with a
// v5 will_delay_interval does not fire on the abnormal disconnect itself,
// only once that delay elapses, and the delay is clamped against the
// session's own expiry (here the expiry is the longer of the two, so the
// clamp has no effect and the will still fires at will_delay_interval).
func TestScenarioWillFiresAfterDelay(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), Options{ReceiveMaximum: 32})

	watcher, watcherSender := connectSession(ctx, t, r, "watcher", true)
	r.Subscribe(ctx, watcher, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "clients/doomed/status", QoS: packet.QoSAtMostOnce}},
	})

	cp := &packet.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: byte(packet.Version5),
		ClientID:      "doomed",
		CleanStart:    false,
		KeepAlive:     30,
		WillFlag:      true,
		Will: &packet.Will{
			Topic:      "clients/doomed/status",
			Message:    []byte("offline"),
			QoS:        packet.QoSAtMostOnce,
			Properties: packet.Properties{WillDelayInterval: u32ptr(1)},
		},
		Properties: packet.Properties{SessionExpiryInterval: u32ptr(10)},
	}
	doomed, _, offline := r.Connect(ctx, cp, "127.0.0.1:0")
	doomedSender := &fakeSender{}
	doomed.Activate(ctx, doomedSender)
	r.DrainOffline(doomed, offline)

	r.Disconnect(ctx, doomed, true, time.Now())

	time.Sleep(300 * time.Millisecond)
	if got := watcherSender.publishes(t); len(got) != 0 {
		t.Fatalf("will fired immediately, want it deferred by will_delay_interval: %+v", got)
	}

	waitForFrames(t, watcherSender, 1)
	got := watcherSender.publishes(t)
	if len(got) != 1 || string(got[0].Payload) != "offline" {
		t.Fatalf("expected the delayed will to arrive with payload %q, got %+v", "offline", got)
	}
}

// TestScenarioSharedSubscriptionRoundRobin covers spec.md §8 S6: a publish
// matching a $share group is delivered to exactly one member, and
// successive publishes round-robin across the group's members rather than
// fanning out to all of them.
func TestScenarioSharedSubscriptionRoundRobin(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), Options{ReceiveMaximum: 32})

	worker1, sender1 := connectSession(ctx, t, r, "worker-1", true)
	worker2, sender2 := connectSession(ctx, t, r, "worker-2", true)
	r.Subscribe(ctx, worker1, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "$share/workers/jobs/new", QoS: packet.QoSAtMostOnce}},
	})
	r.Subscribe(ctx, worker2, &packet.SubscribePacket{
		Filters: []packet.SubscribeFilter{{Topic: "$share/workers/jobs/new", QoS: packet.QoSAtMostOnce}},
	})

	for i := 0; i < 2; i++ {
		r.Publish(ctx, "", "jobs/new", &packet.PublishPacket{
			Topic: "jobs/new", Payload: []byte("job"), QoS: packet.QoSAtMostOnce,
		}, time.Now())
	}

	waitForFrames(t, sender1, 1)
	waitForFrames(t, sender2, 1)

	got1 := sender1.publishes(t)
	got2 := sender2.publishes(t)
	if len(got1) != 1 {
		t.Errorf("worker-1 got %d publishes, want exactly 1 (one round-robin turn)", len(got1))
	}
	if len(got2) != 1 {
		t.Errorf("worker-2 got %d publishes, want exactly 1 (one round-robin turn)", len(got2))
	}
}
