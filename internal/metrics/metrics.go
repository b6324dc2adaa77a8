// Package metrics exposes Prometheus collectors for the sync engine.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apsync"

// Metrics holds the engine collectors.
type Metrics struct {
	checksSent       prometheus.Counter
	checksSuppressed prometheus.Counter
	checksResent     prometheus.Counter
	itemsApplied     prometheus.Counter
	itemIndex        prometheus.Gauge
	desyncs          prometheus.Counter
	rewardsGranted   prometheus.Counter
	rewardFailures   prometheus.Counter
	tasksDrained     prometheus.Counter
	taskFailures     prometheus.Counter
	reconnects       prometheus.Counter
	connectionState  *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checks_sent_total",
			Help: "Location checks transmitted for the first time.",
		}),
		checksSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checks_suppressed_total",
			Help: "Location checks dropped because sending was disabled.",
		}),
		checksResent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checks_resent_total",
			Help: "Location checks retransmitted during resync.",
		}),
		itemsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_applied_total",
			Help: "Received items queued for granting.",
		}),
		itemIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "item_index",
			Help: "Highest applied received item index.",
		}),
		desyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "desyncs_total",
			Help: "Gaps detected in received item indices.",
		}),
		rewardsGranted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rewards_granted_total",
			Help: "Rewards applied to the game.",
		}),
		rewardFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reward_failures_total",
			Help: "Rewards that failed to apply.",
		}),
		tasksDrained: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_drained_total",
			Help: "Tasks run on the consumer goroutine.",
		}),
		taskFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_failures_total",
			Help: "Tasks that returned an error or panicked.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Automatic reconnect attempts.",
		}),
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "1 for the current connection state, 0 for the others.",
		}, []string{"state"}),
	}
}

func (m *Metrics) ChecksSent(n int) {
	if m == nil {
		return
	}
	m.checksSent.Add(float64(n))
}

func (m *Metrics) CheckSuppressed() {
	if m == nil {
		return
	}
	m.checksSuppressed.Inc()
}

func (m *Metrics) ChecksResent(n int) {
	if m == nil {
		return
	}
	m.checksResent.Add(float64(n))
}

func (m *Metrics) ItemApplied(index int64) {
	if m == nil {
		return
	}
	m.itemsApplied.Inc()
	m.itemIndex.Set(float64(index))
}

func (m *Metrics) Desync() {
	if m == nil {
		return
	}
	m.desyncs.Inc()
}

func (m *Metrics) RewardGranted() {
	if m == nil {
		return
	}
	m.rewardsGranted.Inc()
}

func (m *Metrics) RewardFailed() {
	if m == nil {
		return
	}
	m.rewardFailures.Inc()
}

func (m *Metrics) TasksDrained(n int) {
	if m == nil {
		return
	}
	m.tasksDrained.Add(float64(n))
}

func (m *Metrics) TaskFailed() {
	if m == nil {
		return
	}
	m.taskFailures.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetConnectionState marks current as the active state among all.
func (m *Metrics) SetConnectionState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}
