package handoff

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const keySep = "\x00"

// MemoryStore keeps hints in process memory. Hints expire after the TTL.
type MemoryStore struct {
	mu    sync.Mutex // serializes read-modify-write on the cache
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory hint store. A ttl <= 0 uses DefaultHintTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultHintTTL
	}
	return &MemoryStore{
		cache: gocache.New(ttl, time.Minute),
		ttl:   ttl,
	}
}

func itemKey(nodeID, key string) string {
	return nodeID + keySep + key
}

// Add stores h unless a newer hint for the same key exists.
func (s *MemoryStore) Add(ctx context.Context, h Hint) error {
	remaining := s.ttl - time.Since(h.CreatedAt)
	if remaining <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := itemKey(h.NodeID, h.Key)
	if cur, ok := s.cache.Get(k); ok && cur.(Hint).newerThan(h) {
		return nil
	}
	s.cache.Set(k, h, remaining)
	return nil
}

// Take removes and returns up to max hints for nodeID, oldest first.
func (s *MemoryStore) Take(ctx context.Context, nodeID string, max int) ([]Hint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hints := s.pending(nodeID)
	sort.Slice(hints, oldestFirst(hints))
	if max > 0 && len(hints) > max {
		hints = hints[:max]
	}
	for _, h := range hints {
		s.cache.Delete(itemKey(h.NodeID, h.Key))
	}
	return hints, nil
}

// Remove deletes the hint for nodeID and key if it is not newer than cutoff.
func (s *MemoryStore) Remove(ctx context.Context, nodeID, key string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := itemKey(nodeID, key)
	cur, ok := s.cache.Get(k)
	if !ok || !cur.(Hint).createdBy(cutoff) {
		return false, nil
	}
	s.cache.Delete(k)
	return true, nil
}

// Nodes returns the ids of nodes with pending hints, sorted.
func (s *MemoryStore) Nodes(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, item := range s.cache.Items() {
		seen[item.Object.(Hint).NodeID] = true
	}

	nodes := make([]string, 0, len(seen))
	for id := range seen {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes, nil
}

// Len returns the number of pending hints for nodeID.
func (s *MemoryStore) Len(ctx context.Context, nodeID string) (int, error) {
	return len(s.pending(nodeID)), nil
}

// pending lists the unexpired hints for nodeID in no particular order.
func (s *MemoryStore) pending(nodeID string) []Hint {
	prefix := nodeID + keySep
	var hints []Hint
	for k, item := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			hints = append(hints, item.Object.(Hint))
		}
	}
	return hints
}
