// Package quorum provides coordination logic for replicated writes.
// It handles quorum arithmetic, bounded fanout to replicas and per-call
// timeout management.
package quorum
