package remoterelay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics exports poll, command and reconciliation counters. It is a
// prometheus.Collector; register it once per registry.
type PromMetrics struct {
	polls         *prometheus.CounterVec
	commands      *prometheus.CounterVec
	configUpdates *prometheus.CounterVec
	lastSuccess   *prometheus.GaugeVec
	lastSuccessTS *prometheus.GaugeVec
	pollDuration  *prometheus.GaugeVec
}

// NewPromMetrics creates the collector.
func NewPromMetrics() *PromMetrics {
	return &PromMetrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remoterelay_polls_total",
			Help: "Device profile polls by result",
		}, []string{"entry", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remoterelay_commands_total",
			Help: "Daemon commands sent by command and result",
		}, []string{"entry", "command", "result"}),
		configUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remoterelay_config_updates_total",
			Help: "Persisted config fields rewritten",
		}, []string{"entry", "field"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "remoterelay_last_poll_success",
			Help: "1 if the last poll succeeded",
		}, []string{"entry"}),
		lastSuccessTS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "remoterelay_last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll",
		}, []string{"entry"}),
		pollDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "remoterelay_poll_duration_seconds",
			Help: "Duration of the last poll",
		}, []string{"entry"}),
	}
}

func (m *PromMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.polls, m.commands, m.configUpdates, m.lastSuccess, m.lastSuccessTS, m.pollDuration}
}

// Describe implements prometheus.Collector.
func (m *PromMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *PromMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ObservePoll implements Metrics.
func (m *PromMetrics) ObservePoll(entryID string, success bool, duration time.Duration) {
	m.polls.WithLabelValues(entryID, result(success)).Inc()
	m.pollDuration.WithLabelValues(entryID).Set(duration.Seconds())
	if success {
		m.lastSuccess.WithLabelValues(entryID).Set(1)
		m.lastSuccessTS.WithLabelValues(entryID).Set(float64(time.Now().Unix()))
		return
	}
	m.lastSuccess.WithLabelValues(entryID).Set(0)
}

// ObserveCommand implements Metrics.
func (m *PromMetrics) ObserveCommand(entryID, command string, success bool) {
	m.commands.WithLabelValues(entryID, command, result(success)).Inc()
}

// ObserveConfigUpdate implements Metrics.
func (m *PromMetrics) ObserveConfigUpdate(entryID, field string) {
	m.configUpdates.WithLabelValues(entryID, field).Inc()
}

// Forget drops every series of an unloaded entry.
func (m *PromMetrics) Forget(entryID string) {
	labels := prometheus.Labels{"entry": entryID}
	m.polls.DeletePartialMatch(labels)
	m.commands.DeletePartialMatch(labels)
	m.configUpdates.DeletePartialMatch(labels)
	m.lastSuccess.DeletePartialMatch(labels)
	m.lastSuccessTS.DeletePartialMatch(labels)
	m.pollDuration.DeletePartialMatch(labels)
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
