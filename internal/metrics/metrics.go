// Package metrics exposes broker counters as Prometheus collectors,
// grounded on golang-io/mqtt's stat.go (Stat struct of prometheus.Counter
// /Gauge fields, registered once and served over promhttp.Handler). The
// same counters back the $SYS topic set spec.md §6 requires, so the
// control plane (internal/broker/lifecycle.go) reads through Snapshot
// instead of duplicating state.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Stat struct {
	Uptime             prometheus.Counter
	ClientsConnected   prometheus.Gauge
	ClientsTotal       prometheus.Counter
	MessagesReceived   prometheus.Counter
	MessagesSent       prometheus.Counter
	BytesReceived      prometheus.Counter
	BytesSent          prometheus.Counter
	RetainedMessages   prometheus.Gauge
	SubscriptionsTotal prometheus.Gauge

	startedAt time.Time

	// Mirrored atomics for the $SYS snapshot: prometheus.Counter has no
	// getter, so Inc* helpers below bump both the Prometheus collector
	// and these for internal/broker/lifecycle.go's periodic $SYS publish.
	connectedClients atomic.Int64
	totalClients     atomic.Uint64
	msgsReceived     atomic.Uint64
	msgsSent         atomic.Uint64
	bytesReceived    atomic.Uint64
	bytesSent        atomic.Uint64
}

func (s *Stat) IncClientConnected() {
	s.ClientsConnected.Inc()
	s.ClientsTotal.Inc()
	s.connectedClients.Add(1)
	s.totalClients.Add(1)
}

func (s *Stat) DecClientConnected() {
	s.ClientsConnected.Dec()
	s.connectedClients.Add(-1)
}

func (s *Stat) AddMessageReceived(bytes int) {
	s.MessagesReceived.Inc()
	s.BytesReceived.Add(float64(bytes))
	s.msgsReceived.Add(1)
	s.bytesReceived.Add(uint64(bytes))
}

func (s *Stat) AddMessageSent(bytes int) {
	s.MessagesSent.Inc()
	s.BytesSent.Add(float64(bytes))
	s.msgsSent.Add(1)
	s.bytesSent.Add(uint64(bytes))
}

func New() *Stat {
	return &Stat{
		Uptime:             prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_broker_uptime_seconds", Help: "Seconds since the broker started"}),
		ClientsConnected:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_broker_clients_connected", Help: "Currently connected clients"}),
		ClientsTotal:       prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_broker_clients_total", Help: "Total CONNECT handshakes accepted"}),
		MessagesReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_broker_messages_received_total", Help: "Total PUBLISH packets received from clients"}),
		MessagesSent:       prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_broker_messages_sent_total", Help: "Total PUBLISH packets sent to clients"}),
		BytesReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_broker_bytes_received_total", Help: "Total bytes received from clients"}),
		BytesSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_broker_bytes_sent_total", Help: "Total bytes sent to clients"}),
		RetainedMessages:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_broker_retained_messages", Help: "Currently stored retained messages"}),
		SubscriptionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_broker_subscriptions", Help: "Currently active subscriptions"}),
		startedAt:          time.Now(),
	}
}

func (s *Stat) Register(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		s.Uptime, s.ClientsConnected, s.ClientsTotal, s.MessagesReceived,
		s.MessagesSent, s.BytesReceived, s.BytesSent, s.RetainedMessages, s.SubscriptionsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns an HTTP handler serving the registered collectors in the
// Prometheus exposition format, for mounting at e.g. "/metrics".
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RefreshUptime starts a goroutine that increments Uptime once a second
// until stop is closed,
// matching golang-io/mqtt's Stat.RefreshUptime ticker pattern.
func (s *Stat) RefreshUptime(stop <-chan struct{}) {
	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				s.Uptime.Inc()
			}
		}
	}()
}

// Snapshot is a point-in-time read of the $SYS-reportable counters.
type Snapshot struct {
	UptimeSeconds    int
	ClientsConnected int
	ClientsTotal     uint64
	MessagesReceived uint64
	MessagesSent     uint64
	BytesReceived    uint64
	BytesSent        uint64
}

func (s *Stat) UptimeSeconds() int {
	return int(time.Since(s.startedAt).Seconds())
}

func (s *Stat) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:    s.UptimeSeconds(),
		ClientsConnected: int(s.connectedClients.Load()),
		ClientsTotal:     s.totalClients.Load(),
		MessagesReceived: s.msgsReceived.Load(),
		MessagesSent:     s.msgsSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		BytesSent:        s.bytesSent.Load(),
	}
}
