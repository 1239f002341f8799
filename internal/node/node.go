package node

import (
	"context"

	"kvcoord/internal/storage"
)

// Node is a single storage node as seen by the coordinator.
// Failures are reported as false or absence, never as panics.
type Node interface {
	// ID returns the node identity, unique within a cluster.
	ID() string
	// Get returns the value for key. The second result is false when the key
	// is absent or the node could not answer.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Put stores value under key and reports whether the node accepted it.
	Put(ctx context.Context, key string, value []byte) bool
	// Delete removes key and reports whether anything was removed.
	Delete(ctx context.Context, key string) bool
}

// Checker is implemented by nodes that can report their own reachability.
type Checker interface {
	Check(ctx context.Context) error
}

// Local is an in-process node backed by a storage.Store.
type Local struct {
	id    string
	store storage.Store
}

// NewLocal creates a local node. A nil store gets a fresh in-memory store.
func NewLocal(id string, store storage.Store) *Local {
	if store == nil {
		store = storage.NewInMemoryStore()
	}
	return &Local{
		id:    id,
		store: store,
	}
}

// ID returns the node identity.
func (l *Local) ID() string {
	return l.id
}

// Get reads key from the local store.
func (l *Local) Get(ctx context.Context, key string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	return l.store.Get(key)
}

// Put writes key to the local store.
func (l *Local) Put(ctx context.Context, key string, value []byte) bool {
	if ctx.Err() != nil {
		return false
	}
	l.store.Put(key, value)
	return true
}

// Delete removes key from the local store.
func (l *Local) Delete(ctx context.Context, key string) bool {
	if ctx.Err() != nil {
		return false
	}
	return l.store.Delete(key)
}

// Store returns the backing store.
func (l *Local) Store() storage.Store {
	return l.store
}
