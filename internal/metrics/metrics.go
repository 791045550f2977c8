package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Event names. Every counter is exported as one series of
// aero_chat_relay_events_total with an `event` label.
const (
	SessionsOpened        = "sessions_opened"
	SessionsClosed        = "sessions_closed"
	SessionsRejected      = "sessions_rejected_too_many"
	AuthFailure           = "auth_failure"
	Registrations         = "registrations"
	MalformedEvents       = "malformed_events"
	RateLimited           = "rate_limited"
	OutboundDropped       = "outbound_dropped"
	UserUnavailable       = "user_unavailable"
	PrivateMessages       = "private_messages_routed"
	GroupMessages         = "group_messages_routed"
	GroupJoins            = "group_joins"
	GroupJoinsInvalid     = "group_joins_invalid"
	PrivateChatsStarted   = "private_chats_started"
	CallsInitiated        = "calls_initiated"
	CallsAnswered         = "calls_answered"
	CallsRejected         = "calls_rejected"
	CallsEnded            = "calls_ended"
	CallTransitionIgnored = "call_transition_ignored"
	ICERelayed            = "ice_candidates_relayed"
	ICEDropped            = "ice_candidates_dropped"
	PersistenceFailures   = "persistence_failures"
	PersistQueueDropped   = "persist_queue_dropped"
)

// Metrics is a concurrency-safe counter registry backed by a Prometheus
// registry. A nil *Metrics is valid and discards everything.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
	online prometheus.Gauge

	mu   sync.Mutex
	seen map[string]struct{}
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aero_chat_relay",
			Name:      "events_total",
			Help:      "Internal event counters.",
		}, []string{"event"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aero_chat_relay",
			Name:      "sessions_active",
			Help:      "Currently connected sessions.",
		}),
		seen: make(map[string]struct{}),
	}
	reg.MustRegister(m.events, m.online)
	reg.MustRegister(prometheus.NewGoCollector())
	return m
}

// Registry exposes the underlying registry so other collectors (for example a
// presence size gauge) can be attached.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
	m.mu.Lock()
	m.seen[name] = struct{}{}
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

// Snapshot returns every counter that has been incremented at least once.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	names := make([]string, 0, len(m.seen))
	for name := range m.seen {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	snap := make(map[string]uint64, len(names))
	for _, name := range names {
		snap[name] = m.Get(name)
	}
	return snap
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.Inc(SessionsOpened)
	m.online.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.Inc(SessionsClosed)
	m.online.Dec()
}
