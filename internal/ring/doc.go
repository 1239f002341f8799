// Package ring holds the immutable cluster topology: an ordered node list and
// an effective replication factor. It maps keys to a primary node with a
// stable hash and derives replica sets by walking the ring forward.
package ring
