// Package metrics defines the Prometheus collectors of the coordinator.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Put results.
const (
	PutAccepted      = "accepted"
	PutQuorumNotMet  = "quorum_not_met"
	PutPrimaryFailed = "primary_failed"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Puts            *prometheus.CounterVec
	PutLatency      prometheus.Histogram
	ReplicaWrites   *prometheus.CounterVec
	Gets            *prometheus.CounterVec
	HintsAdded      prometheus.Counter
	HintsDropped    *prometheus.CounterVec
	HintsReplayed   *prometheus.CounterVec
	HintsSuperseded prometheus.Counter
}

// New creates the collectors and registers them on reg (the default
// registerer if nil). Collectors already registered by an earlier call are
// reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "puts_total",
			Help:      "Replicated puts by result.",
		}, []string{"result"}),
		PutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvcoord",
			Name:      "put_latency_ms",
			Help:      "Latency of replicated puts in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ReplicaWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "replica_writes_total",
			Help:      "Replica writes by node and result.",
		}, []string{"node", "result"}),
		Gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "gets_total",
			Help:      "Primary reads by result.",
		}, []string{"result"}),
		HintsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "hints_added_total",
			Help:      "Hints written to the hint store.",
		}),
		HintsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "hints_dropped_total",
			Help:      "Hints lost before reaching the hint store, by reason.",
		}, []string{"reason"}),
		HintsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "hints_replayed_total",
			Help:      "Hint replays by node and result.",
		}, []string{"node", "result"}),
		HintsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvcoord",
			Name:      "hints_superseded_total",
			Help:      "Stored hints removed because a later write reached the node.",
		}),
	}

	var errs []error
	m.Puts = register(reg, m.Puts, &errs)
	m.PutLatency = register(reg, m.PutLatency, &errs)
	m.ReplicaWrites = register(reg, m.ReplicaWrites, &errs)
	m.Gets = register(reg, m.Gets, &errs)
	m.HintsAdded = register(reg, m.HintsAdded, &errs)
	m.HintsDropped = register(reg, m.HintsDropped, &errs)
	m.HintsReplayed = register(reg, m.HintsReplayed, &errs)
	m.HintsSuperseded = register(reg, m.HintsSuperseded, &errs)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// register registers c, returning the existing collector when an equal one
// is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errs *[]error) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	*errs = append(*errs, err)
	return c
}

// ObservePut records a put result and its latency.
func (m *Metrics) ObservePut(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Puts.WithLabelValues(result).Inc()
	m.PutLatency.Observe(float64(d) / float64(time.Millisecond))
}

// ReplicaWrite records one replica write.
func (m *Metrics) ReplicaWrite(nodeID string, ok bool) {
	if m == nil {
		return
	}
	m.ReplicaWrites.WithLabelValues(nodeID, result(ok)).Inc()
}

// Get records a primary read.
func (m *Metrics) Get(hit bool) {
	if m == nil {
		return
	}
	r := "miss"
	if hit {
		r = "hit"
	}
	m.Gets.WithLabelValues(r).Inc()
}

// HintAdded records a hint reaching the store.
func (m *Metrics) HintAdded() {
	if m == nil {
		return
	}
	m.HintsAdded.Inc()
}

// HintDropped records a hint lost before reaching the store.
func (m *Metrics) HintDropped(reason string) {
	if m == nil {
		return
	}
	m.HintsDropped.WithLabelValues(reason).Inc()
}

// HintReplayed records one hint replay attempt.
func (m *Metrics) HintReplayed(nodeID string, ok bool) {
	if m == nil {
		return
	}
	m.HintsReplayed.WithLabelValues(nodeID, result(ok)).Inc()
}

// HintSuperseded records a stored hint removed by a newer delivery.
func (m *Metrics) HintSuperseded() {
	if m == nil {
		return
	}
	m.HintsSuperseded.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
