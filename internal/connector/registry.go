package connector

import (
	"sync"
	"sync/atomic"

	"github.com/buqixiaomi/socket/internal/shardutil"
)

// registryShardCount is the number of shards the registry's channel map is
// split across. shardFor picks a shard with shardutil.ShardForKey (FNV-1a
// hash modulo this count).
const registryShardCount = 32

type registryShard struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// registry maps channel id to Channel, sharded for concurrency the way the
// donor's connection pool shards its map. Unlike the donor, add is not a
// plain put-if-absent: register() semantics require replacing a different
// instance under the same id while treating a re-registration of the same
// instance as a no-op, atomically, to close the donor's "contains + get +
// put" race.
type registry struct {
	shards [registryShardCount]*registryShard
	size   atomic.Int32
}

func newRegistry(capacityHint int) *registry {
	r := &registry{}

	const minShardCapacity = 16
	perShard := capacityHint / registryShardCount
	if perShard < minShardCapacity {
		perShard = minShardCapacity
	}
	for i := range registryShardCount {
		r.shards[i] = &registryShard{channels: make(map[string]Channel, perShard)}
	}
	return r
}

func (r *registry) shardFor(id string) *registryShard {
	return r.shards[shardutil.ShardForKey(id, registryShardCount)]
}

// registerOutcome describes what putOrReplace did, so the caller can emit
// the right log/event without re-taking the shard lock.
type registerOutcome int

const (
	outcomeInstalled registerOutcome = iota
	outcomeNoopSameInstance
	outcomeReplaced
)

// putOrReplace atomically installs ch under id. If an entry already exists
// under id and is the same instance, it is a no-op. If it exists and is a
// different instance, the old one is returned for the caller to close
// *after* the new one is already visible to new lookups, and the outcome is
// outcomeReplaced. Otherwise the outcome is outcomeInstalled.
func (r *registry) putOrReplace(id string, ch Channel) (old Channel, outcome registerOutcome) {
	shard := r.shardFor(id)

	shard.mu.Lock()
	existing, exists := shard.channels[id]
	switch {
	case exists && existing == ch:
		shard.mu.Unlock()
		return nil, outcomeNoopSameInstance
	case exists:
		shard.channels[id] = ch
		shard.mu.Unlock()
		return existing, outcomeReplaced
	default:
		shard.channels[id] = ch
		shard.mu.Unlock()
		r.size.Add(1)
		return nil, outcomeInstalled
	}
}

func (r *registry) get(id string) (Channel, bool) {
	shard := r.shardFor(id)
	shard.mu.RLock()
	ch, ok := shard.channels[id]
	shard.mu.RUnlock()
	return ch, ok
}

// remove deletes id if it maps to exactly ch (identity check), so that a
// concurrent replace cannot be undone by a stale close path. It reports
// whether it removed anything.
func (r *registry) remove(id string, ch Channel) bool {
	shard := r.shardFor(id)
	shard.mu.Lock()
	existing, exists := shard.channels[id]
	if !exists || (ch != nil && existing != ch) {
		shard.mu.Unlock()
		return false
	}
	delete(shard.channels, id)
	shard.mu.Unlock()
	r.size.Add(-1)
	return true
}

func (r *registry) Size() int {
	return int(r.size.Load())
}

// forEach calls fn for every (id, channel) pair, snapshotting each shard
// under its read lock and releasing it before calling fn, so fn may itself
// call back into the registry (e.g. to close an evicted channel).
func (r *registry) forEach(fn func(id string, ch Channel)) {
	type entry struct {
		id string
		ch Channel
	}
	var all []entry

	for i := range registryShardCount {
		shard := r.shards[i]
		shard.mu.RLock()
		for id, ch := range shard.channels {
			all = append(all, entry{id, ch})
		}
		shard.mu.RUnlock()
	}

	for _, e := range all {
		fn(e.id, e.ch)
	}
}

// clear empties every shard, used by the sweeper on final teardown.
func (r *registry) clear() {
	for i := range registryShardCount {
		shard := r.shards[i]
		shard.mu.Lock()
		shard.channels = make(map[string]Channel)
		shard.mu.Unlock()
	}
	r.size.Store(0)
}
