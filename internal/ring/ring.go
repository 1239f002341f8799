package ring

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"kvcoord/internal/node"
)

var (
	// ErrNoNodes is returned when a ring is built without nodes.
	ErrNoNodes = errors.New("ring: at least one node is required")
	// ErrNilNode is returned when the node list contains a nil entry.
	ErrNilNode = errors.New("ring: nil node")
	// ErrDuplicateNode is returned when two nodes share an identity.
	ErrDuplicateNode = errors.New("ring: duplicate node id")
)

// Ring is an ordered, fixed list of nodes plus a replication factor.
// It is immutable after New and safe for concurrent use without locking.
// Membership changes are modelled by building a new Ring.
type Ring struct {
	nodes             []node.Node
	positions         map[string]int // nodeID -> position
	replicationFactor int
}

// New creates a ring over nodes. The order of nodes defines the ring.
// replicationFactor is clamped to [1, len(nodes)].
func New(nodes []node.Node, replicationFactor int) (*Ring, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}

	positions := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("%w at position %d", ErrNilNode, i)
		}
		if prev, exists := positions[n.ID()]; exists {
			return nil, fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateNode, n.ID(), prev, i)
		}
		positions[n.ID()] = i
	}

	return &Ring{
		nodes:             append([]node.Node(nil), nodes...),
		positions:         positions,
		replicationFactor: clamp(replicationFactor, 1, len(nodes)),
	}, nil
}

// ReplicationFactor returns the effective (clamped) replication factor.
func (r *Ring) ReplicationFactor() int {
	return r.replicationFactor
}

// Len returns the number of nodes.
func (r *Ring) Len() int {
	return len(r.nodes)
}

// Nodes returns the nodes in ring order. The slice is a copy.
func (r *Ring) Nodes() []node.Node {
	return append([]node.Node(nil), r.nodes...)
}

// Lookup returns the node with the given id.
func (r *Ring) Lookup(nodeID string) (node.Node, bool) {
	pos, exists := r.positions[nodeID]
	if !exists {
		return nil, false
	}
	return r.nodes[pos], true
}

// Position returns the ring position of the node with the given id.
func (r *Ring) Position(nodeID string) (int, bool) {
	pos, exists := r.positions[nodeID]
	return pos, exists
}

// PrimaryIndex returns the ring position owning key.
func (r *Ring) PrimaryIndex(key string) int {
	return int(Hash(key) % uint64(len(r.nodes)))
}

// Primary returns the node owning key.
func (r *Ring) Primary(key string) node.Node {
	return r.nodes[r.PrimaryIndex(key)]
}

// Replicas returns the nodes that hold copies of primary's keys, in ring-walk
// order starting after primary. The result never contains primary, holds no
// duplicates and has min(rf-1, len(nodes)-1) entries. A primary that is not
// part of the ring has no replicas.
func (r *Ring) Replicas(primary node.Node) []node.Node {
	if primary == nil {
		return nil
	}
	start, exists := r.positions[primary.ID()]
	if !exists {
		return nil
	}
	return r.walk(start, r.replicationFactor-1)
}

// ReplicasOf is Replicas for a ring position.
func (r *Ring) ReplicasOf(position int) []node.Node {
	if position < 0 || position >= len(r.nodes) {
		return nil
	}
	return r.walk(position, r.replicationFactor-1)
}

// walk collects up to want distinct nodes after start.
func (r *Ring) walk(start, want int) []node.Node {
	n := len(r.nodes)
	if want <= 0 || n == 1 {
		return []node.Node{}
	}

	result := make([]node.Node, 0, want)
	// Positions are distinct for i in [1, n), so no seen-set is needed
	for i := 1; i < n && len(result) < want; i++ {
		result = append(result, r.nodes[(start+i)%n])
	}
	return result
}

// Hash is the stable key hash used for routing: 64-bit xxhash, seed 0. Its
// output does not depend on the process, so independent coordinators over
// the same node list agree on every primary.
func Hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
