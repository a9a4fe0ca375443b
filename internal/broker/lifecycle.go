package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/metrics"
	"github.com/pyr33x/goqtt/internal/packet"
)

// Lifecycle drives the broker's background timers: periodic $SYS
// publication and retained-message expiry sweeps. Generalizes the
// teacher's gracefulShutdown (cmd/goqtt/main.go), which only tracked a
// single TCPServer's shutdown, into the full timer set of spec.md §5.
type Lifecycle struct {
	router           *Router
	metrics          *metrics.Stat
	sysTopicInterval time.Duration
	retainSweep      time.Duration
	log              *logger.Logger

	stop chan struct{}
}

func NewLifecycle(router *Router, stat *metrics.Stat, sysTopicInterval time.Duration) *Lifecycle {
	if sysTopicInterval <= 0 {
		sysTopicInterval = 10 * time.Second
	}
	return &Lifecycle{
		router:           router,
		metrics:          stat,
		sysTopicInterval: sysTopicInterval,
		retainSweep:      time.Minute,
		log:              logger.NewMQTTLogger("lifecycle"),
		stop:             make(chan struct{}),
	}
}

// Run blocks, driving timers until ctx is canceled.
func (l *Lifecycle) Run(ctx context.Context) {
	sysTick := time.NewTicker(l.sysTopicInterval)
	defer sysTick.Stop()
	retainTick := time.NewTicker(l.retainSweep)
	defer retainTick.Stop()

	if l.metrics != nil {
		l.metrics.RefreshUptime(l.stop)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-sysTick.C:
			l.publishSys()
		case <-retainTick.C:
			n := l.router.PurgeRetained(time.Now())
			if n > 0 {
				l.log.Debug("purged expired retained messages", logger.Int("count", n))
			}
		}
	}
}

func (l *Lifecycle) Stop() {
	close(l.stop)
}

// publishSys republishes the broker's $SYS status topics, per spec.md §6's
// exhaustive set. Published as retained QoS 0, bypassing normal ACL since
// these are broker-originated.
func (l *Lifecycle) publishSys() {
	stats := l.router.Stats()
	now := time.Now()

	uptime := 0
	var snap metrics.Snapshot
	if l.metrics != nil {
		snap = l.metrics.Snapshot()
		uptime = snap.UptimeSeconds
	}

	topics := map[string]string{
		"$SYS/broker/uptime":            fmt.Sprintf("%d", uptime),
		"$SYS/broker/clients/connected": fmt.Sprintf("%d", stats.Sessions),
		"$SYS/broker/clients/total":     fmt.Sprintf("%d", snap.ClientsTotal),
		"$SYS/broker/messages/received": fmt.Sprintf("%d", snap.MessagesReceived),
		"$SYS/broker/messages/sent":     fmt.Sprintf("%d", snap.MessagesSent),
		"$SYS/broker/bytes/received":    fmt.Sprintf("%d", snap.BytesReceived),
		"$SYS/broker/bytes/sent":        fmt.Sprintf("%d", snap.BytesSent),
	}

	for topic, payload := range topics {
		p := &packet.PublishPacket{Topic: topic, Payload: []byte(payload), QoS: packet.QoSAtMostOnce, Retain: true}
		l.router.Publish(context.Background(), "", topic, p, now)
	}
}
