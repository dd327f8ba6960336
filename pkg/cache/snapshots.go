// Package cache provides the Redis-backed snapshot cache. Snapshots are
// projections of the signal log: the cache is an optimization only, and
// can be flushed at any time without loss — a miss rebuilds from the
// log. Entries are keyed by snapshot hash; a second index maps a
// context fingerprint (policy, claim type, agent set, log prefix) to
// the hash so the engine can consult the cache before rebuilding. A
// late signal with time at or before the snapshot changes the
// fingerprint, so stale entries simply stop being found.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verity-protocol/verity/pkg/snapshot"
)

const (
	snapshotPrefix    = "verity:snapshot:"
	fingerprintPrefix = "verity:snapctx:"
)

// Snapshots caches frozen trust snapshots in Redis.
type Snapshots struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshots wraps a Redis client. A zero TTL keeps entries until
// Redis evicts them.
func NewSnapshots(client *redis.Client, ttl time.Duration) *Snapshots {
	return &Snapshots{client: client, ttl: ttl}
}

// Get fetches a snapshot by hash; the returned snapshot is re-verified
// so a corrupted cache can never poison a compile.
func (c *Snapshots) Get(ctx context.Context, hash string) (*snapshot.Snapshot, bool, error) {
	raw, err := c.client.Get(ctx, snapshotPrefix+hash).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get snapshot: %w", err)
	}

	var s snapshot.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("cache: corrupt snapshot: %w", err)
	}
	if err := s.Verify(); err != nil {
		// Treat a bad entry as a miss; the caller rebuilds from the log.
		return nil, false, nil
	}
	return &s, true, nil
}

// Put stores a frozen snapshot under its hash.
func (c *Snapshots) Put(ctx context.Context, s *snapshot.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotPrefix+s.SnapshotHash, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: put snapshot: %w", err)
	}
	return nil
}

// Lookup resolves a context fingerprint to its cached snapshot, if the
// fingerprint index and the snapshot entry are both present and intact.
func (c *Snapshots) Lookup(ctx context.Context, fingerprint string) (*snapshot.Snapshot, bool, error) {
	hash, err := c.client.Get(ctx, fingerprintPrefix+fingerprint).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: lookup fingerprint: %w", err)
	}
	return c.Get(ctx, hash)
}

// Store writes a snapshot under its hash and indexes it by the context
// fingerprint it was built for.
func (c *Snapshots) Store(ctx context.Context, fingerprint string, s *snapshot.Snapshot) error {
	if err := c.Put(ctx, s); err != nil {
		return err
	}
	if err := c.client.Set(ctx, fingerprintPrefix+fingerprint, s.SnapshotHash, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: index fingerprint: %w", err)
	}
	return nil
}

// Invalidate drops one snapshot entry by hash, for orchestrators that
// learn of late signals after handing the snapshot out.
func (c *Snapshots) Invalidate(ctx context.Context, hash string) error {
	if err := c.client.Del(ctx, snapshotPrefix+hash).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}
