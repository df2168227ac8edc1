package raft

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the ambient observability surface: gauges and counters a
// server updates as it transitions role, term, and commit index. None of
// this is load-bearing for consensus itself — it exists so an operator can
// watch a cluster the way cuemby-warren's raft wiring exposes
// prometheus.client_golang gauges alongside hashicorp/raft.
type Metrics struct {
	term        prometheus.Gauge
	role        prometheus.Gauge
	commitIndex prometheus.Gauge
	lastIndex   prometheus.Gauge
	voteRPCs    *prometheus.CounterVec
	appendRPCs  *prometheus.CounterVec
}

// NewMetrics registers a server's metric set under reg with serverID as a
// constant label. Passing a fresh prometheus.NewRegistry() per server keeps
// multiple in-process servers (as used in tests) from colliding on metric
// names.
func NewMetrics(reg prometheus.Registerer, serverID uint64) *Metrics {
	labels := prometheus.Labels{"server_id": strconv.FormatUint(serverID, 10)}
	m := &Metrics{
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_current_term",
			Help:        "Current term as last observed by this server.",
			ConstLabels: labels,
		}),
		role: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_role",
			Help:        "0=Follower, 1=Candidate, 2=Leader.",
			ConstLabels: labels,
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_commit_index",
			Help:        "Highest log index known committed.",
			ConstLabels: labels,
		}),
		lastIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_last_log_index",
			Help:        "Highest log index appended.",
			ConstLabels: labels,
		}),
		voteRPCs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "raft_vote_rpcs_total",
			Help:        "VoteRequest/VoteResponse RPCs handled, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		appendRPCs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "raft_append_rpcs_total",
			Help:        "AppendRequest RPCs handled, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.term, m.role, m.commitIndex, m.lastIndex, m.voteRPCs, m.appendRPCs)
	}
	return m
}

func (m *Metrics) observeRole(role Role, term uint64) {
	if m == nil {
		return
	}
	m.role.Set(float64(role))
	m.term.Set(float64(term))
}

func (m *Metrics) observeCommit(commitIndex, lastIndex uint64) {
	if m == nil {
		return
	}
	m.commitIndex.Set(float64(commitIndex))
	m.lastIndex.Set(float64(lastIndex))
}

func (m *Metrics) countVote(granted bool) {
	if m == nil {
		return
	}
	if granted {
		m.voteRPCs.WithLabelValues("granted").Inc()
	} else {
		m.voteRPCs.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) countAppend(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.appendRPCs.WithLabelValues("ok").Inc()
	} else {
		m.appendRPCs.WithLabelValues("rejected").Inc()
	}
}
