package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayer_DeliversLatestValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	b := newFlakyNode("B")

	older := NewHint("B", "k", []byte("old"))
	newer := NewHint("B", "k", []byte("new"))
	newer.CreatedAt = older.CreatedAt.Add(time.Millisecond)
	require.NoError(t, store.Add(ctx, older))
	require.NoError(t, store.Add(ctx, newer))
	require.NoError(t, store.Add(ctx, NewHint("B", "k2", []byte("v2"))))

	r := NewReplayer(store, nodeMap{"B": b})

	n, err := r.Replay(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	value, ok := b.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", string(value))

	left, _ := store.Len(ctx, "B")
	assert.Equal(t, 0, left)
}

func TestReplayer_StopsAtFailureAndKeepsHints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	b := newFlakyNode("B")
	health := newFakeHealth()

	base := time.Now()
	for i, key := range []string{"a", "b", "c"} {
		h := NewHint("B", key, []byte(key))
		h.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, store.Add(ctx, h))
	}

	// First put succeeds, second fails
	b.failFrom.Store(2)
	r := NewReplayer(store, nodeMap{"B": b}, WithHealth(health), WithBatchSize(10))

	n, err := r.Replay(ctx, "B")
	assert.ErrorIs(t, err, ErrReplayInterrupted)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"B"}, health.failed)

	left, err := store.Take(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "b", left[0].Key)
	assert.Equal(t, 1, left[0].Attempts)
	assert.Equal(t, "c", left[1].Key)
	assert.Equal(t, 0, left[1].Attempts)
}

func TestReplayer_UnknownNodeDiscards(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Add(ctx, NewHint("gone", "k", []byte("v"))))

	r := NewReplayer(store, nodeMap{})

	n, err := r.Replay(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	left, _ := store.Len(ctx, "gone")
	assert.Equal(t, 0, left)
}

func TestReplayer_ReplayAllSkipsDeadNodes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	b := newFlakyNode("B")
	c := newFlakyNode("C")
	health := newFakeHealth()
	health.setDead("C", true)

	require.NoError(t, store.Add(ctx, NewHint("B", "k", []byte("v"))))
	require.NoError(t, store.Add(ctx, NewHint("C", "k", []byte("v"))))

	r := NewReplayer(store, nodeMap{"B": b, "C": c}, WithHealth(health))

	assert.Equal(t, 1, r.ReplayAll(ctx))
	assert.Equal(t, int32(0), c.puts.Load(), "dead node must not be contacted")

	left, _ := store.Len(ctx, "C")
	assert.Equal(t, 1, left)
}

func TestReplayer_RunReplaysOnNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore(time.Hour)
	b := newFlakyNode("B")
	require.NoError(t, store.Add(ctx, NewHint("B", "k", []byte("v"))))

	// Long interval so only Notify can trigger the replay
	r := NewReplayer(store, nodeMap{"B": b}, WithInterval(time.Hour))
	go r.Run(ctx)

	r.Notify("B")

	assert.Eventually(t, func() bool {
		_, ok := b.Get(ctx, "k")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplayer_RunReplaysPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore(time.Hour)
	b := newFlakyNode("B")
	b.down.Store(true)
	require.NoError(t, store.Add(ctx, NewHint("B", "k", []byte("v"))))

	r := NewReplayer(store, nodeMap{"B": b}, WithInterval(20*time.Millisecond))
	go r.Run(ctx)

	// Wait for at least one failed attempt, then recover the node
	assert.Eventually(t, func() bool { return b.puts.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	b.down.Store(false)

	assert.Eventually(t, func() bool {
		_, ok := b.Get(ctx, "k")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplayer_TimeoutCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Add(ctx, NewHint("B", "k", []byte("v"))))

	slow := &slowNode{flakyNode: newFlakyNode("B"), delay: 500 * time.Millisecond}
	r := NewReplayer(store, nodeMap{"B": slow}, WithNodeTimeout(20*time.Millisecond))

	n, err := r.Replay(ctx, "B")
	assert.ErrorIs(t, err, ErrReplayInterrupted)
	assert.Equal(t, 0, n)

	left, _ := store.Len(ctx, "B")
	assert.Equal(t, 1, left)
}
