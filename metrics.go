package undotree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports tree activity to Prometheus. A nil *Metrics is valid and
// records nothing. One Metrics value may be shared by many trees.
type Metrics struct {
	transitions     *prometheus.CounterVec
	carves          *prometheus.CounterVec
	discardedNodes  prometheus.Counter
	discardedBytes  prometheus.Counter
	treeBytes       prometheus.Histogram
	treeNodes       prometheus.Histogram
	wholesaleResets prometheus.Counter
}

// NewMetrics registers the collectors with reg. Pass nil to use the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "undotree_transitions_total",
			Help: "Tree transitions by kind",
		}, []string{"kind"}),
		carves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "undotree_region_carves_total",
			Help: "Undo/redo-in-region attempts",
		}, []string{"direction", "result"}),
		discardedNodes: f.NewCounter(prometheus.CounterOpts{
			Name: "undotree_discarded_nodes_total",
			Help: "Nodes removed by the discard policy",
		}),
		discardedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "undotree_discarded_bytes_total",
			Help: "Changeset bytes removed by the discard policy",
		}),
		treeBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "undotree_tree_bytes",
			Help:    "Changeset bytes held by a tree after a transition",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		treeNodes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "undotree_tree_nodes",
			Help:    "Nodes held by a tree after a transition",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		}),
		wholesaleResets: f.NewCounter(prometheus.CounterOpts{
			Name: "undotree_wholesale_discards_total",
			Help: "Histories dropped entirely after exceeding the outer limit",
		}),
	}
}

func (m *Metrics) transition(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) carve(dir direction, result string) {
	if m == nil {
		return
	}
	m.carves.WithLabelValues(dir.String(), result).Inc()
}

func (m *Metrics) discarded(nodes int, bytes int64) {
	if m == nil || nodes == 0 {
		return
	}
	m.discardedNodes.Add(float64(nodes))
	m.discardedBytes.Add(float64(bytes))
}

func (m *Metrics) wholesale() {
	if m == nil {
		return
	}
	m.wholesaleResets.Inc()
}

func (m *Metrics) treeShape(size int64, count int) {
	if m == nil {
		return
	}
	m.treeBytes.Observe(float64(size))
	m.treeNodes.Observe(float64(count))
}
