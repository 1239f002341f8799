// Package replication derives the placement of a key: its primary node and
// the ordered replicas that receive copies of every write.
package replication

import (
	"kvcoord/internal/node"
	"kvcoord/internal/ring"
)

// Plan is the placement of one key.
type Plan struct {
	Key      string
	Primary  node.Node
	Replicas []node.Node
}

// ForKey returns the placement of key on r.
func ForKey(r *ring.Ring, key string) Plan {
	primary := r.Primary(key)
	return Plan{
		Key:      key,
		Primary:  primary,
		Replicas: r.Replicas(primary),
	}
}

// Targets returns the primary followed by the replicas.
func (p Plan) Targets() []node.Node {
	out := make([]node.Node, 0, len(p.Replicas)+1)
	out = append(out, p.Primary)
	return append(out, p.Replicas...)
}

// ReplicaIDs returns the replica identities in ring order.
func (p Plan) ReplicaIDs() []string {
	out := make([]string, len(p.Replicas))
	for i, n := range p.Replicas {
		out[i] = n.ID()
	}
	return out
}
