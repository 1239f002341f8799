// Package coordinator routes key-value operations across a fixed set of
// storage nodes.
//
// Writes go to the key's primary first. Only when the primary accepts the
// value are the replicas written, concurrently, and the write is accepted
// once 1 + ceil((rf-1)/2) nodes hold it. Replica failures are handed to the
// hinted-handoff hook. A write that misses quorum is not rolled back: the
// value stays on every node that took it.
//
// Reads go to the primary only. A missing key and an unreachable primary
// look the same to the caller, and replicas are never consulted; reads can
// therefore be stale or unavailable while replicas hold the value.
package coordinator
