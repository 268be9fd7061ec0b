package raft

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kartikbazzad/raftauction/wire"
)

// Prometheus instrumentation for Raft role transitions, elections, and log
// progress.
var (
	roleGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftauction_node_role",
			Help: "1 if this node currently holds the given role, 0 otherwise.",
		},
		[]string{"node", "role"},
	)
	termGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftauction_current_term",
			Help: "The node's currentTerm.",
		},
		[]string{"node"},
	)
	electionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftauction_elections_total",
			Help: "Total number of elections this node has started.",
		},
		[]string{"node"},
	)
	commitIndexGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftauction_commit_index",
			Help: "The node's commitIndex.",
		},
		[]string{"node"},
	)
	appliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftauction_entries_applied_total",
			Help: "Total number of log entries applied to the state machine.",
		},
		[]string{"node"},
	)
)

// metricsSet scopes the package-level vectors to one node id so call sites
// don't repeat the label.
type metricsSet struct {
	id wire.NodeId
}

func newMetricsSet(id wire.NodeId) *metricsSet {
	roleGauge.WithLabelValues(id, Follower.String()).Set(1)
	roleGauge.WithLabelValues(id, Candidate.String()).Set(0)
	roleGauge.WithLabelValues(id, Leader.String()).Set(0)
	return &metricsSet{id: id}
}

func (m *metricsSet) setRole(id wire.NodeId, role State) {
	for _, r := range []State{Follower, Candidate, Leader} {
		v := 0.0
		if r == role {
			v = 1.0
		}
		roleGauge.WithLabelValues(id, r.String()).Set(v)
	}
}

func (m *metricsSet) setTerm(term uint64) {
	termGauge.WithLabelValues(m.id).Set(float64(term))
}

func (m *metricsSet) electionStarted() {
	electionsTotal.WithLabelValues(m.id).Inc()
}

func (m *metricsSet) setCommitIndex(idx int64) {
	commitIndexGauge.WithLabelValues(m.id).Set(float64(idx))
}

func (m *metricsSet) entryApplied() {
	appliedTotal.WithLabelValues(m.id).Inc()
}
