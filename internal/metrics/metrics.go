// Package metrics instruments the agent itself: collection outcomes, publish
// outcomes and the agent process's own resource usage. Downstream telemetry
// stays on MQTT; this registry only feeds the local /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Agent bundles the agent's self-metrics.
type Agent struct {
	Registry *prometheus.Registry

	CollectDuration *prometheus.HistogramVec
	CollectErrors   *prometheus.CounterVec
	TicksSkipped    *prometheus.CounterVec
	TransportUsed   *prometheus.CounterVec

	Publishes       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	Reconnects      prometheus.Counter

	EntitiesDiscovered prometheus.Gauge
	AlertsEmitted      prometheus.Counter

	SelfCPUPercent prometheus.Gauge
	SelfMemBytes   prometheus.Gauge
}

// NewAgent builds and registers every metric on a fresh registry.
func NewAgent() *Agent {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &Agent{
		Registry: reg,
		CollectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_collect_duration_seconds",
			Help:    "Duration of one domain collection cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server", "domain"}),
		CollectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_collect_errors_total",
			Help: "Domain collection cycles that failed on every transport.",
		}, []string{"server", "domain"}),
		TicksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_ticks_skipped_total",
			Help: "Scheduler ticks skipped because the previous cycle was still running.",
		}, []string{"server", "scan_class"}),
		TransportUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_transport_used_total",
			Help: "Successful fetches by transport.",
		}, []string{"server", "domain", "transport"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_mqtt_publishes_total",
			Help: "MQTT publications by kind.",
		}, []string{"kind"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_mqtt_publish_failures_total",
			Help: "MQTT publications dropped or failed by kind.",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_mqtt_reconnects_total",
			Help: "Broker connections established after the initial connect.",
		}),
		EntitiesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_entities_discovered",
			Help: "Entities with discovery published this process lifetime.",
		}),
		AlertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_storage_alerts_total",
			Help: "Storage-health alert events emitted.",
		}),
		SelfCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_self_cpu_percent",
			Help: "CPU usage of the agent process.",
		}),
		SelfMemBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_self_memory_rss_bytes",
			Help: "Resident memory of the agent process.",
		}),
	}

	reg.MustRegister(
		a.CollectDuration, a.CollectErrors, a.TicksSkipped, a.TransportUsed,
		a.Publishes, a.PublishFailures, a.Reconnects,
		a.EntitiesDiscovered, a.AlertsEmitted,
		a.SelfCPUPercent, a.SelfMemBytes,
	)
	return a
}

// ObservePublish is wired as the publisher's publish observer.
func (a *Agent) ObservePublish(kind string, err error) {
	a.Publishes.WithLabelValues(kind).Inc()
	if err != nil {
		a.PublishFailures.WithLabelValues(kind).Inc()
	}
}
