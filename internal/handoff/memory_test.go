package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AddTake(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	first := NewHint("B", "k1", []byte("v1"))
	second := NewHint("B", "k2", []byte("v2"))
	other := NewHint("C", "k1", []byte("v1"))
	for _, h := range []Hint{first, second, other} {
		require.NoError(t, s.Add(ctx, h))
	}

	nodes, err := s.Nodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, nodes)

	n, err := s.Len(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	taken, err := s.Take(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	assert.Equal(t, "k1", taken[0].Key, "oldest first")
	assert.Equal(t, "k2", taken[1].Key)

	n, _ = s.Len(ctx, "B")
	assert.Equal(t, 0, n)
	nodes, _ = s.Nodes(ctx)
	assert.Equal(t, []string{"C"}, nodes)
}

func TestMemoryStore_TakeBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Add(ctx, NewHint("B", key, []byte(key))))
	}

	batch, err := s.Take(ctx, "B", 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	rest, err := s.Take(ctx, "B", 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Key)
}

func TestMemoryStore_LatestWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	older := NewHint("B", "k", []byte("old"))
	newer := NewHint("B", "k", []byte("new"))
	newer.CreatedAt = older.CreatedAt.Add(time.Millisecond)

	require.NoError(t, s.Add(ctx, newer))
	// A late, older hint must not replace the newer one
	require.NoError(t, s.Add(ctx, older))

	taken, err := s.Take(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.Equal(t, "new", string(taken[0].Value))
}

func TestMemoryStore_ExpiredHintIgnored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	h := NewHint("B", "k", []byte("v"))
	h.CreatedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, s.Add(ctx, h))

	n, _ := s.Len(ctx, "B")
	assert.Equal(t, 0, n)
}

func TestMemoryStore_HintsExpire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(50 * time.Millisecond)

	require.NoError(t, s.Add(ctx, NewHint("B", "k", []byte("v"))))

	assert.Eventually(t, func() bool {
		n, _ := s.Len(ctx, "B")
		return n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewHint_CopiesValue(t *testing.T) {
	value := []byte("value")
	h := NewHint("B", "k", value)
	value[0] = 'X'

	assert.Equal(t, "value", string(h.Value))
	assert.NotEmpty(t, h.ID)
	assert.False(t, h.CreatedAt.IsZero())
}

func TestHint_NewerThanTieBreak(t *testing.T) {
	now := time.Now()
	a := Hint{ID: "0001", CreatedAt: now}
	b := Hint{ID: "0002", CreatedAt: now}

	assert.True(t, b.newerThan(a))
	assert.False(t, a.newerThan(b))
}

func TestMemoryStore_Remove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	h := NewHint("B", "k", []byte("v1"))
	require.NoError(t, s.Add(ctx, h))

	// A cutoff before the hint leaves it alone
	removed, err := s.Remove(ctx, "B", "k", h.CreatedAt.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.Remove(ctx, "B", "other", time.Now())
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.Remove(ctx, "B", "k", h.CreatedAt)
	require.NoError(t, err)
	assert.True(t, removed)

	n, err := s.Len(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	nodes, err := s.Nodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
