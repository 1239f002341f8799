package quorum

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPerReplicaTimeout is the default timeout for each node call.
	DefaultPerReplicaTimeout = 2 * time.Second
)

// Outcome describes a replicated write as observed at write time.
type Outcome struct {
	PrimarySuccess   bool
	ReplicaSuccesses int
	Replicas         int
	QuorumRequired   int
	Accepted         bool
}

// String renders the outcome for logs and errors.
func (o Outcome) String() string {
	return fmt.Sprintf("accepted=%v primary=%v acks=%d/%d required=%d",
		o.Accepted, o.PrimarySuccess, o.Acks(), o.Replicas+1, o.QuorumRequired)
}

// Acks counts successful writes including the primary.
func (o Outcome) Acks() int {
	if !o.PrimarySuccess {
		return 0
	}
	return 1 + o.ReplicaSuccesses
}

// WriteQuorum returns the number of acknowledgements, primary included,
// needed for a write to be accepted under replication factor rf.
func WriteQuorum(rf int) int {
	if rf <= 1 {
		return 1
	}
	// 1 + ceil((rf-1)/2)
	return 1 + rf/2
}

// Decide applies the quorum rule. A failed primary is never accepted,
// whatever the replica count.
func Decide(primarySuccess bool, replicaSuccesses, replicas, rf int) Outcome {
	o := Outcome{
		PrimarySuccess:   primarySuccess,
		ReplicaSuccesses: replicaSuccesses,
		Replicas:         replicas,
		QuorumRequired:   WriteQuorum(rf),
	}
	if primarySuccess {
		o.Accepted = 1+replicaSuccesses >= o.QuorumRequired
	}
	return o
}

// ReplicaWriteFunc performs a write to a single replica.
// Returns true if successful, false otherwise.
type ReplicaWriteFunc[T any] func(ctx context.Context, replica T) bool

// Replicate fans writeFn out to replicas with at most limit calls in flight
// and returns the per-replica results in input order. A limit <= 0 means one
// call per replica.
func Replicate[T any](ctx context.Context, replicas []T, limit int, writeFn ReplicaWriteFunc[T]) []bool {
	results := make([]bool, len(replicas))
	if len(replicas) == 0 {
		return results
	}
	if limit <= 0 || limit > len(replicas) {
		limit = len(replicas)
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, replica := range replicas {
		i, replica := i, replica
		g.Go(func() error {
			results[i] = writeFn(ctx, replica)
			return nil
		})
	}

	// Replica failures are results, not errors
	_ = g.Wait()
	return results
}

// Count returns the number of true results.
func Count(results []bool) int {
	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}

// Call runs fn with a context bounded by timeout and stops waiting once that
// context ends, even if fn ignores it. The second result is false when the
// call did not finish in time. A timeout <= 0 only inherits ctx's deadline.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T) (T, bool) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan T, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case v := <-done:
		return v, true
	case <-ctx.Done():
		// Prefer a result that raced with the deadline
		select {
		case v := <-done:
			return v, true
		default:
		}
		var zero T
		return zero, false
	}
}
