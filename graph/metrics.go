package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metric collection for engine execution.
//
// Metrics exposed (namespaced "kepler_graph_"):
//   - inflight_branches (gauge): branches currently executing.
//   - node_duration_seconds (histogram): node execution time, labeled by
//     node and status.
//   - branch_failures_total (counter): branches that ended a run fatally.
//   - joins_total (counter): completed join barriers, labeled by join node.
//
// Register once per process:
//
//	metrics := graph.NewMetrics(prometheus.DefaultRegisterer)
//	engine := graph.New(reducer, emitter, graph.WithMetrics(metrics))
type Metrics struct {
	inflightBranches prometheus.Gauge
	nodeDuration     *prometheus.HistogramVec
	branchFailures   prometheus.Counter
	joins            *prometheus.CounterVec
}

// NewMetrics creates and registers engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inflightBranches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kepler_graph",
			Name:      "inflight_branches",
			Help:      "Number of fan-out branches currently executing.",
		}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kepler_graph",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds.",
			Buckets:   []float64{.005, .05, .25, 1, 5, 15, 60, 300},
		}, []string{"node", "status"}),
		branchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kepler_graph",
			Name:      "branch_failures_total",
			Help:      "Fan-out branches that terminated the run with an error.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kepler_graph",
			Name:      "joins_total",
			Help:      "Completed join barriers.",
		}, []string{"join"}),
	}
	reg.MustRegister(m.inflightBranches, m.nodeDuration, m.branchFailures, m.joins)
	return m
}

func (m *Metrics) branchStarted() {
	if m == nil {
		return
	}
	m.inflightBranches.Inc()
}

func (m *Metrics) branchFinished(failed bool) {
	if m == nil {
		return
	}
	m.inflightBranches.Dec()
	if failed {
		m.branchFailures.Inc()
	}
}

func (m *Metrics) nodeObserved(nodeID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.nodeDuration.WithLabelValues(nodeID, status).Observe(d.Seconds())
}

func (m *Metrics) joinCompleted(joinID string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(joinID).Inc()
}
