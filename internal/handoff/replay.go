package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kvcoord/internal/logger"
	"kvcoord/internal/metrics"
	"kvcoord/internal/node"
	"kvcoord/internal/quorum"
)

// DefaultReplayInterval is how often every alive node's hints are drained.
const DefaultReplayInterval = 10 * time.Second

// ErrReplayInterrupted is returned when a replay stops at a failed write.
var ErrReplayInterrupted = errors.New("handoff: replay interrupted")

// Resolver finds a node by identity. *ring.Ring implements it.
type Resolver interface {
	Lookup(nodeID string) (node.Node, bool)
}

// HealthView tells the replayer which nodes are worth replaying to.
type HealthView interface {
	Alive(nodeID string) bool
	MarkFailed(nodeID string)
}

// Replayer delivers stored hints to their nodes.
type Replayer struct {
	store    Store
	nodes    Resolver
	health   HealthView
	logger   *zap.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	batch    int
	interval time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	kick    chan string
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithHealth makes the replayer skip nodes that are not alive and report
// failed replays back.
func WithHealth(h HealthView) ReplayerOption {
	return func(r *Replayer) { r.health = h }
}

// WithReplayLogger sets the logger.
func WithReplayLogger(l *zap.Logger) ReplayerOption {
	return func(r *Replayer) { r.logger = logger.OrNop(l) }
}

// WithReplayMetrics sets the metrics sink.
func WithReplayMetrics(m *metrics.Metrics) ReplayerOption {
	return func(r *Replayer) { r.metrics = m }
}

// WithNodeTimeout bounds every replayed write.
func WithNodeTimeout(d time.Duration) ReplayerOption {
	return func(r *Replayer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBatchSize sets how many hints are taken per round.
func WithBatchSize(n int) ReplayerOption {
	return func(r *Replayer) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithInterval sets the period of full replay rounds in Run.
func WithInterval(d time.Duration) ReplayerOption {
	return func(r *Replayer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReplayer creates a replayer for hints in store, resolving nodes through nodes.
func NewReplayer(store Store, nodes Resolver, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		store:    store,
		nodes:    nodes,
		logger:   zap.NewNop(),
		timeout:  quorum.DefaultPerReplicaTimeout,
		batch:    DefaultBatchSize,
		interval: DefaultReplayInterval,
		locks:    make(map[string]*sync.Mutex),
		kick:     make(chan string, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify asks Run to replay nodeID's hints now. It never blocks; a full
// queue is fine since the next periodic round picks the node up.
func (r *Replayer) Notify(nodeID string) {
	select {
	case r.kick <- nodeID:
	default:
	}
}

// Run replays periodically and on Notify until ctx is done.
func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("hint replayer started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("hint replayer stopping")
			return
		case nodeID := <-r.kick:
			if _, err := r.Replay(ctx, nodeID); err != nil && !errors.Is(err, ErrReplayInterrupted) {
				r.logger.Warn("hint replay failed", zap.String("node_id", nodeID), zap.Error(err))
			}
		case <-ticker.C:
			r.ReplayAll(ctx)
		}
	}
}

// ReplayAll replays hints for every alive node that has some and returns
// the number of hints delivered.
func (r *Replayer) ReplayAll(ctx context.Context) int {
	nodeIDs, err := r.store.Nodes(ctx)
	if err != nil {
		r.logger.Warn("failed to list hinted nodes", zap.Error(err))
		return 0
	}

	total := 0
	for _, nodeID := range nodeIDs {
		if r.health != nil && !r.health.Alive(nodeID) {
			continue
		}
		n, err := r.Replay(ctx, nodeID)
		total += n
		if err != nil && !errors.Is(err, ErrReplayInterrupted) {
			r.logger.Warn("hint replay failed", zap.String("node_id", nodeID), zap.Error(err))
		}
	}
	return total
}

// Replay delivers nodeID's hints oldest first and returns how many were
// written. It stops at the first failed write, puts the undelivered hints
// back and returns ErrReplayInterrupted. Hints for a node outside the ring
// are discarded.
func (r *Replayer) Replay(ctx context.Context, nodeID string) (int, error) {
	lock := r.lockFor(nodeID)
	lock.Lock()
	defer lock.Unlock()

	target, ok := r.nodes.Lookup(nodeID)
	if !ok {
		dropped, err := r.store.Take(ctx, nodeID, 0)
		if err != nil {
			return 0, fmt.Errorf("discard hints for unknown node %s: %w", nodeID, err)
		}
		r.logger.Warn("discarded hints for unknown node",
			zap.String("node_id", nodeID), zap.Int("hints", len(dropped)))
		return 0, nil
	}

	replayed := 0
	for {
		hints, err := r.store.Take(ctx, nodeID, r.batch)
		if err != nil {
			return replayed, fmt.Errorf("take hints for %s: %w", nodeID, err)
		}
		if len(hints) == 0 {
			if replayed > 0 {
				r.logger.Info("hints replayed", zap.String("node_id", nodeID), zap.Int("hints", replayed))
			}
			return replayed, nil
		}

		for i, h := range hints {
			ok, done := quorum.Call(ctx, r.timeout, func(ctx context.Context) bool {
				return target.Put(ctx, h.Key, h.Value)
			})
			success := ok && done
			r.metrics.HintReplayed(nodeID, success)

			if !success {
				r.restore(ctx, hints[i:])
				if r.health != nil {
					r.health.MarkFailed(nodeID)
				}
				r.logger.Debug("hint replay interrupted",
					zap.String("node_id", nodeID),
					zap.Int("replayed", replayed),
					zap.Int("remaining", len(hints)-i))
				return replayed, ErrReplayInterrupted
			}
			replayed++
		}
	}
}

// restore puts undelivered hints back. A newer hint stored in the meantime
// wins over the restored one.
func (r *Replayer) restore(ctx context.Context, hints []Hint) {
	// Only the first hint was attempted
	hints[0].Attempts++
	for _, h := range hints {
		if err := r.store.Add(context.WithoutCancel(ctx), h); err != nil {
			r.logger.Error("failed to restore hint",
				zap.String("node_id", h.NodeID),
				zap.String("key", h.Key),
				zap.Error(err))
		}
	}
}

func (r *Replayer) lockFor(nodeID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[nodeID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[nodeID] = l
	}
	return l
}
