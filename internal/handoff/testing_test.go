package handoff

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kvcoord/internal/node"
)

// flakyNode is a node whose puts can be switched off.
type flakyNode struct {
	*node.Local
	down     atomic.Bool
	puts     atomic.Int32
	failFrom atomic.Int32 // when > 0, the failFrom-th put and later ones fail
}

func newFlakyNode(id string) *flakyNode {
	return &flakyNode{Local: node.NewLocal(id, nil)}
}

func (n *flakyNode) Put(ctx context.Context, key string, value []byte) bool {
	count := n.puts.Add(1)
	if n.down.Load() {
		return false
	}
	if from := n.failFrom.Load(); from > 0 && count >= from {
		return false
	}
	return n.Local.Put(ctx, key, value)
}

// slowNode takes delay to answer a put and ignores its context.
type slowNode struct {
	*flakyNode
	delay time.Duration
}

func (n *slowNode) Put(ctx context.Context, key string, value []byte) bool {
	time.Sleep(n.delay)
	return n.flakyNode.Put(ctx, key, value)
}

// nodeMap resolves nodes by id.
type nodeMap map[string]node.Node

func (m nodeMap) Lookup(id string) (node.Node, bool) {
	n, ok := m[id]
	return n, ok
}

// fakeHealth records MarkFailed calls.
type fakeHealth struct {
	mu     sync.Mutex
	dead   map[string]bool
	failed []string
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{dead: make(map[string]bool)}
}

func (h *fakeHealth) Alive(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.dead[id]
}

func (h *fakeHealth) MarkFailed(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, id)
}

func (h *fakeHealth) setDead(id string, dead bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead[id] = dead
}
