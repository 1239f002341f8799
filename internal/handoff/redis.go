package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 16

// RedisStore keeps hints in Redis so they survive coordinator restarts.
//
// Each node has one hash, <prefix>:hints:<node>, mapping key to the JSON
// encoded hint. <prefix>:hints:nodes is the set of nodes with pending hints.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed hint store. A ttl <= 0 uses DefaultHintTTL.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "kvcoord"
	}
	if ttl <= 0 {
		ttl = DefaultHintTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *RedisStore) nodesKey() string {
	return s.prefix + ":hints:nodes"
}

func (s *RedisStore) hintsKey(nodeID string) string {
	return s.prefix + ":hints:" + nodeID
}

// Add stores h unless a newer hint for the same key exists.
func (s *RedisStore) Add(ctx context.Context, h Hint) error {
	if h.expired(s.now(), s.ttl) {
		return nil
	}

	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hint: %w", err)
	}

	key := s.hintsKey(h.NodeID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, h.Key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing Hint
			if json.Unmarshal(cur, &existing) == nil && existing.newerThan(h) {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, h.Key, data)
			pipe.SAdd(ctx, s.nodesKey(), h.NodeID)
			return nil
		})
		return err
	}, key)
}

// Take removes and returns up to max hints for nodeID, oldest first.
// Expired or undecodable entries are removed along the way.
func (s *RedisStore) Take(ctx context.Context, nodeID string, max int) ([]Hint, error) {
	key := s.hintsKey(nodeID)

	var taken []Hint
	err := s.watch(ctx, func(tx *redis.Tx) error {
		taken = nil

		all, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		now := s.now()
		hints := make([]Hint, 0, len(all))
		var drop []string
		for field, raw := range all {
			var h Hint
			if err := json.Unmarshal([]byte(raw), &h); err != nil || h.expired(now, s.ttl) {
				drop = append(drop, field)
				continue
			}
			hints = append(hints, h)
		}

		sort.Slice(hints, oldestFirst(hints))
		if max > 0 && len(hints) > max {
			hints = hints[:max]
		}
		for _, h := range hints {
			drop = append(drop, h.Key)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(drop) > 0 {
				pipe.HDel(ctx, key, drop...)
			}
			if len(drop) == len(all) {
				pipe.SRem(ctx, s.nodesKey(), nodeID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		taken = hints
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// Remove deletes the hint for nodeID and key if it is not newer than cutoff.
// The node leaves the node set with its last hint.
func (s *RedisStore) Remove(ctx context.Context, nodeID, key string, cutoff time.Time) (bool, error) {
	hashKey := s.hintsKey(nodeID)

	var removed bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		removed = false

		raw, err := tx.HGet(ctx, hashKey, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var cur Hint
		if json.Unmarshal(raw, &cur) == nil && !cur.createdBy(cutoff) {
			return nil
		}

		n, err := tx.HLen(ctx, hashKey).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, hashKey, key)
			if n <= 1 {
				pipe.SRem(ctx, s.nodesKey(), nodeID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		removed = true
		return nil
	}, hashKey)
	if err != nil {
		return false, fmt.Errorf("remove hint for %s: %w", nodeID, err)
	}
	return removed, nil
}

// Nodes returns the ids of nodes with pending hints, sorted.
func (s *RedisStore) Nodes(ctx context.Context) ([]string, error) {
	nodes, err := s.client.SMembers(ctx, s.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list hinted nodes: %w", err)
	}
	sort.Strings(nodes)
	return nodes, nil
}

// Len returns the number of stored hints for nodeID, expired ones included
// until the next Take.
func (s *RedisStore) Len(ctx context.Context, nodeID string) (int, error) {
	n, err := s.client.HLen(ctx, s.hintsKey(nodeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count hints for %s: %w", nodeID, err)
	}
	return int(n), nil
}

// watch runs fn in an optimistic transaction on keys, retrying on conflict.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("hint store: transaction on %v kept conflicting", keys)
}
