package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHintTTL bounds how long a hint is kept for an unreachable node.
	DefaultHintTTL = 3 * time.Hour
	// DefaultBatchSize is the number of hints taken per replay round.
	DefaultBatchSize = 128
)

// Hint is a replica write waiting for its node to come back.
type Hint struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// NewHint creates a hint for a write of key/value that nodeID missed.
// The value is copied.
func NewHint(nodeID, key string, value []byte) Hint {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Hint{
		ID:        id.String(),
		NodeID:    nodeID,
		Key:       key,
		Value:     append([]byte{}, value...),
		CreatedAt: time.Now(),
	}
}

// newerThan reports whether h was created after o. Version 7 ids sort by
// creation time, so they break ties.
func (h Hint) newerThan(o Hint) bool {
	if !h.CreatedAt.Equal(o.CreatedAt) {
		return h.CreatedAt.After(o.CreatedAt)
	}
	return h.ID > o.ID
}

// expired reports whether h is older than ttl at now.
func (h Hint) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(h.CreatedAt) >= ttl
}

// Store keeps hints per node. Implementations are safe for concurrent use.
type Store interface {
	// Add stores h unless a newer hint for the same node and key is already
	// stored. Expired hints are ignored.
	Add(ctx context.Context, h Hint) error
	// Take removes and returns up to max hints for nodeID, oldest first.
	// max <= 0 takes all of them.
	Take(ctx context.Context, nodeID string, max int) ([]Hint, error)
	// Nodes returns the ids of nodes with pending hints.
	Nodes(ctx context.Context) ([]string, error)
	// Len returns the number of pending hints for nodeID.
	Len(ctx context.Context, nodeID string) (int, error)
	// Remove deletes the hint for nodeID and key if it was created at or
	// before cutoff, and reports whether one was deleted.
	Remove(ctx context.Context, nodeID, key string, cutoff time.Time) (bool, error)
}

// createdBy reports whether h was created at or before cutoff.
func (h Hint) createdBy(cutoff time.Time) bool {
	return !h.CreatedAt.After(cutoff)
}

// oldestFirst orders hints by creation.
func oldestFirst(hints []Hint) func(i, j int) bool {
	return func(i, j int) bool {
		return hints[j].newerThan(hints[i])
	}
}
