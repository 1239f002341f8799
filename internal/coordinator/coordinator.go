package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kvcoord/internal/logger"
	"kvcoord/internal/metrics"
	"kvcoord/internal/node"
	"kvcoord/internal/quorum"
	"kvcoord/internal/replication"
	"kvcoord/internal/ring"
)

// HintedHandoff receives the result of every replica write. Hint is called
// for a failed write and Delivered for a successful one, so hints older than
// the delivered value can be discarded. Neither may block, and neither can
// fail the write.
type HintedHandoff interface {
	Hint(nodeID, key string, value []byte)
	Delivered(nodeID, key string)
}

type discardHints struct{}

func (discardHints) Hint(string, string, []byte) {}

func (discardHints) Delivered(string, string) {}

// Coordinator serves Get and Put over an immutable ring of nodes.
// It is safe for concurrent use.
type Coordinator struct {
	ring        *ring.Ring
	nodeTimeout time.Duration
	handoff     HintedHandoff
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithNodeTimeout bounds every node call. A call that runs out of time
// counts as failed.
func WithNodeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.nodeTimeout = d
		}
	}
}

// WithHintedHandoff sets the hook for failed replica writes.
func WithHintedHandoff(h HintedHandoff) Option {
	return func(c *Coordinator) {
		if h != nil {
			c.handoff = h
		}
	}
}

// New creates a coordinator over nodes, in ring order. The replication
// factor is clamped to [1, len(nodes)]. An empty or inconsistent node list
// is rejected.
func New(nodes []node.Node, replicationFactor int, opts ...Option) (*Coordinator, error) {
	r, err := ring.New(nodes, replicationFactor)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	c := &Coordinator{
		ring:        r,
		nodeTimeout: quorum.DefaultPerReplicaTimeout,
		handoff:     discardHints{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info("coordinator ready",
		zap.Int("nodes", r.Len()),
		zap.Int("replication_factor", r.ReplicationFactor()),
		zap.Int("write_quorum", quorum.WriteQuorum(r.ReplicationFactor())),
		zap.Duration("node_timeout", c.nodeTimeout))

	return c, nil
}

// Ring returns the topology.
func (c *Coordinator) Ring() *ring.Ring {
	return c.ring
}

// WriteQuorum returns the acknowledgements a write needs.
func (c *Coordinator) WriteQuorum() int {
	return quorum.WriteQuorum(c.ring.ReplicationFactor())
}

type readResult struct {
	value []byte
	found bool
}

// Get reads key from its primary node. The second result is false when the
// key is absent, the primary failed, or the call timed out.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool) {
	primary := c.ring.Primary(key)

	res, done := quorum.Call(ctx, c.nodeTimeout, func(ctx context.Context) readResult {
		value, found := primary.Get(ctx, key)
		return readResult{value: value, found: found}
	})
	hit := done && res.found

	c.metrics.Get(hit)
	c.logger.Debug("get",
		zap.String("key", key),
		zap.String("primary", primary.ID()),
		zap.Bool("found", hit),
		zap.Bool("timed_out", !done))

	if !hit {
		return nil, false
	}
	return res.value, true
}

// Put writes key to its primary and replicas and reports whether the write
// reached quorum.
func (c *Coordinator) Put(ctx context.Context, key string, value []byte) bool {
	return c.PutOutcome(ctx, key, value).Accepted
}

// PutOutcome is Put with the full tally.
func (c *Coordinator) PutOutcome(ctx context.Context, key string, value []byte) quorum.Outcome {
	start := time.Now()
	rf := c.ring.ReplicationFactor()
	plan := replication.ForKey(c.ring, key)

	primaryOK := c.write(ctx, plan.Primary, key, value)
	if !primaryOK {
		outcome := quorum.Decide(false, 0, len(plan.Replicas), rf)
		c.logger.Warn("put rejected: primary write failed",
			zap.String("key", key),
			zap.String("primary", plan.Primary.ID()))
		c.metrics.ObservePut(metrics.PutPrimaryFailed, time.Since(start))
		return outcome
	}

	results := quorum.Replicate(ctx, plan.Replicas, len(plan.Replicas), func(ctx context.Context, replica node.Node) bool {
		ok := c.write(ctx, replica, key, value)
		c.metrics.ReplicaWrite(replica.ID(), ok)
		if ok {
			c.handoff.Delivered(replica.ID(), key)
		} else {
			c.handoff.Hint(replica.ID(), key, value)
		}
		return ok
	})

	outcome := quorum.Decide(true, quorum.Count(results), len(plan.Replicas), rf)

	if outcome.Accepted {
		c.logger.Debug("put accepted",
			zap.String("key", key),
			zap.String("primary", plan.Primary.ID()),
			zap.Int("acks", outcome.Acks()),
			zap.Int("required", outcome.QuorumRequired))
		c.metrics.ObservePut(metrics.PutAccepted, time.Since(start))
	} else {
		// The value stays on the nodes that took it
		c.logger.Warn("put rejected: quorum not met",
			zap.String("key", key),
			zap.String("primary", plan.Primary.ID()),
			zap.Strings("replicas", plan.ReplicaIDs()),
			zap.Int("acks", outcome.Acks()),
			zap.Int("required", outcome.QuorumRequired))
		c.metrics.ObservePut(metrics.PutQuorumNotMet, time.Since(start))
	}

	return outcome
}

// write puts key on n within the node timeout.
func (c *Coordinator) write(ctx context.Context, n node.Node, key string, value []byte) bool {
	ok, done := quorum.Call(ctx, c.nodeTimeout, func(ctx context.Context) bool {
		return n.Put(ctx, key, value)
	})
	if !done {
		c.logger.Debug("node write timed out", zap.String("node_id", n.ID()), zap.String("key", key))
	}
	return done && ok
}
