package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the supervisor's Prometheus collectors
type Metrics struct {
	WorkersDesired  prometheus.Gauge
	WorkersAlive    prometheus.Gauge
	Spawns          prometheus.Counter
	SpawnFailures   prometheus.Counter
	Exits           *prometheus.CounterVec
	Restarts        prometheus.Counter
	RestartsLimited prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkersDesired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prefork_workers_desired",
			Help: "Number of worker slots the supervisor maintains",
		}),
		WorkersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prefork_workers_alive",
			Help: "Number of worker processes currently running",
		}),
		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prefork_worker_spawns_total",
			Help: "Total worker processes started, including restarts",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prefork_worker_spawn_failures_total",
			Help: "Total worker processes that failed to start",
		}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prefork_worker_exits_total",
			Help: "Total worker exits by reason",
		}, []string{"reason"}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prefork_worker_restarts_total",
			Help: "Total restarts scheduled for exited workers",
		}),
		RestartsLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prefork_worker_restarts_limited_total",
			Help: "Total restarts denied by the restart budget",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.WorkersDesired,
			m.WorkersAlive,
			m.Spawns,
			m.SpawnFailures,
			m.Exits,
			m.Restarts,
			m.RestartsLimited,
		)
	}

	return m
}
