package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcoord/internal/metrics"
)

// blockingStore blocks every Add until released.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (s *blockingStore) Add(ctx context.Context, h Hint) error {
	<-s.release
	return s.MemoryStore.Add(ctx, h)
}

// failingStore rejects every Add.
type failingStore struct {
	*MemoryStore
}

func (s *failingStore) Add(ctx context.Context, h Hint) error {
	return errors.New("store unavailable")
}

// unlistableStore cannot list its nodes.
type unlistableStore struct {
	*MemoryStore
}

func (s *unlistableStore) Nodes(ctx context.Context) ([]string, error) {
	return nil, errors.New("store unavailable")
}

func TestHandoff_HintReachesStore(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	h := New(store)
	defer h.Close()

	value := []byte("v")
	h.Hint("B", "k", value)
	value[0] = 'X'

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Flush(ctx))

	hints, err := store.Take(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "k", hints[0].Key)
	assert.Equal(t, "v", string(hints[0].Value), "hint must copy the value")
}

func TestHandoff_NeverBlocks(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(time.Hour), release: make(chan struct{})}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	h := New(store, WithBuffer(2), WithMetrics(m))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Hint("B", "k", []byte("v"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hint blocked on a stalled store")
	}

	// One hint is held by the writer, two wait in the buffer
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.HintsDropped.WithLabelValues(dropBufferFull)), 7.0)

	close(store.release)
	h.Close()
}

func TestHandoff_StoreErrorIsCounted(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	h := New(&failingStore{MemoryStore: NewMemoryStore(time.Hour)}, WithMetrics(m))
	h.Hint("B", "k", []byte("v"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Flush(ctx))
	h.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HintsDropped.WithLabelValues(dropStoreError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HintsAdded))
}

func TestHandoff_CloseDrainsAndRejects(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	h := New(store)

	for _, key := range []string{"a", "b", "c"} {
		h.Hint("B", key, []byte(key))
	}
	h.Close()

	n, err := store.Len(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "Close should write queued hints")

	// After Close hints are dropped, not panicking on the closed channel
	assert.NotPanics(t, func() { h.Hint("B", "d", nil) })
	h.Close()
}

func TestHandoff_DeliveredClearsOlderHint(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	h := New(store, WithMetrics(m))
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h.Hint("B", "k", []byte("v1"))
	h.Hint("B", "other", []byte("x"))
	h.Delivered("B", "k")
	require.NoError(t, h.Flush(ctx))

	hints, err := store.Take(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "other", hints[0].Key)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HintsSuperseded))
}

func TestHandoff_HintAfterDeliveryIsKept(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	h := New(store)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h.Hint("B", "k", []byte("v1"))
	h.Delivered("B", "k")
	h.Hint("B", "k", []byte("v3"))
	require.NoError(t, h.Flush(ctx))

	hints, err := store.Take(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "v3", string(hints[0].Value))
}

func TestHandoff_DeliveredClearsHintsStoredBeforeStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Add(ctx, NewHint("B", "k", []byte("v1"))))

	h := New(store)
	defer h.Close()

	h.Delivered("B", "k")
	require.NoError(t, h.Flush(ctx))

	n, err := store.Len(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandoff_DeliveredWithoutNodeListing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := &unlistableStore{MemoryStore: NewMemoryStore(time.Hour)}
	require.NoError(t, store.Add(ctx, NewHint("B", "k", []byte("v1"))))

	h := New(store)
	defer h.Close()

	h.Delivered("B", "k")
	require.NoError(t, h.Flush(ctx))

	n, err := store.Len(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandoff_DeliveredAfterCloseIsIgnored(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	h := New(NewMemoryStore(time.Hour), WithMetrics(m))
	h.Hint("B", "k", []byte("v"))
	h.Close()

	assert.NotPanics(t, func() { h.Delivered("B", "k") })
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HintsDropped.WithLabelValues(dropClosed)))
}
