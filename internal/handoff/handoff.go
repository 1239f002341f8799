package handoff

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"kvcoord/internal/logger"
	"kvcoord/internal/metrics"
)

const (
	// DefaultBuffer is the number of hints that may wait for the store.
	DefaultBuffer = 1024
	// DefaultWriteTimeout bounds a single store write.
	DefaultWriteTimeout = 2 * time.Second
)

// Drop reasons reported to metrics.
const (
	dropBufferFull = "buffer_full"
	dropClosed     = "closed"
	dropStoreError = "store_error"
)

// Handoff is the hook the write coordinator calls for every replica write.
// Failed writes become hints; successful ones clear older hints for the same
// node and key so a later replay cannot overwrite the newer value. Neither
// call blocks: both are queued in memory and applied to the store, in call
// order, by a background goroutine.
type Handoff struct {
	store        Store
	logger       *zap.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration

	mu      sync.RWMutex // guards closed and sends on pending
	closed  bool
	pending chan entry
	queued  atomic.Int64 // accepted, not yet applied
	done    chan struct{}

	// Nodes that may have hints in the store. Deliveries to other nodes
	// have nothing to clear.
	hinted    sync.Map
	hintedAll bool
}

// entry is a queued store operation: a hint to add, or, when delivered is
// set, a delivery that supersedes hints created before it.
type entry struct {
	hint      Hint
	delivered bool
}

// Option configures a Handoff.
type Option func(*Handoff)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handoff) { h.logger = logger.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handoff) { h.metrics = m }
}

// WithBuffer sets how many operations may wait for the store.
func WithBuffer(n int) Option {
	return func(h *Handoff) {
		if n > 0 {
			h.pending = make(chan entry, n)
		}
	}
}

// WithWriteTimeout bounds each store write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handoff) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// New creates a Handoff writing into store and starts its writer. Nodes
// that already have hints in store are picked up so deliveries to them
// clear stale hints.
func New(store Store, opts ...Option) *Handoff {
	h := &Handoff{
		store:        store,
		logger:       zap.NewNop(),
		writeTimeout: DefaultWriteTimeout,
		pending:      make(chan entry, DefaultBuffer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	nodeIDs, err := store.Nodes(ctx)
	cancel()
	if err != nil {
		h.logger.Warn("failed to list hinted nodes, clearing on every delivery", zap.Error(err))
		h.hintedAll = true
	}
	for _, id := range nodeIDs {
		h.hinted.Store(id, struct{}{})
	}

	go h.run()
	return h
}

// Hint records that nodeID missed a write of key/value.
func (h *Handoff) Hint(nodeID, key string, value []byte) {
	hint := NewHint(nodeID, key, value)
	h.hinted.Store(nodeID, struct{}{})

	if !h.enqueue(entry{hint: hint}) {
		h.drop(hint, dropBufferFull)
	}
}

// Delivered records that nodeID accepted a write of key. Hints for that
// node and key created before now are removed. A delivery that cannot be
// queued is skipped; the stale hint then only lives until its TTL.
func (h *Handoff) Delivered(nodeID, key string) {
	if _, ok := h.hinted.Load(nodeID); !ok && !h.hintedAll {
		return
	}

	e := entry{
		hint:      Hint{NodeID: nodeID, Key: key, CreatedAt: time.Now()},
		delivered: true,
	}
	if !h.enqueue(e) {
		h.logger.Debug("skipping hint clear",
			zap.String("node_id", nodeID),
			zap.String("key", key))
	}
}

// enqueue queues e without blocking. Hints rejected after Close are dropped
// here; false means the buffer was full.
func (h *Handoff) enqueue(e entry) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		if !e.delivered {
			h.drop(e.hint, dropClosed)
		}
		return true
	}

	h.queued.Add(1)
	select {
	case h.pending <- e:
		return true
	default:
		h.queued.Add(-1)
		return false
	}
}

// Flush waits until every operation accepted so far has been applied or dropped.
func (h *Handoff) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for h.queued.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting hints and waits for queued ones to be written.
func (h *Handoff) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.pending)
	h.mu.Unlock()

	<-h.done
}

func (h *Handoff) run() {
	defer close(h.done)

	for e := range h.pending {
		if e.delivered {
			h.clear(e.hint)
		} else {
			h.write(e.hint)
		}
		h.queued.Add(-1)
	}
}

func (h *Handoff) write(hint Hint) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()

	if err := h.store.Add(ctx, hint); err != nil {
		h.logger.Error("failed to store hint",
			zap.String("node_id", hint.NodeID),
			zap.String("key", hint.Key),
			zap.Error(err))
		h.metrics.HintDropped(dropStoreError)
		return
	}

	h.logger.Debug("hint stored",
		zap.String("node_id", hint.NodeID),
		zap.String("key", hint.Key),
		zap.String("hint_id", hint.ID))
	h.metrics.HintAdded()
}

func (h *Handoff) clear(d Hint) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()

	removed, err := h.store.Remove(ctx, d.NodeID, d.Key, d.CreatedAt)
	if err != nil {
		h.logger.Warn("failed to clear superseded hint",
			zap.String("node_id", d.NodeID),
			zap.String("key", d.Key),
			zap.Error(err))
		return
	}
	if removed {
		h.logger.Debug("superseded hint cleared",
			zap.String("node_id", d.NodeID),
			zap.String("key", d.Key))
		h.metrics.HintSuperseded()
	}
}

func (h *Handoff) drop(hint Hint, reason string) {
	h.logger.Warn("dropping hint",
		zap.String("node_id", hint.NodeID),
		zap.String("key", hint.Key),
		zap.String("reason", reason))
	h.metrics.HintDropped(reason)
}
