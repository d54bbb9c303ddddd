package counter

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 256

// lockTable serializes mutations per key. Keys hash onto a fixed set of
// mutexes; multi-key callers lock shards in ascending order so two callers
// can never wait on each other.
type lockTable struct {
	shards [lockShards]sync.Mutex
}

func shardOf(key string) int {
	return int(xxhash.Sum64String(key) % lockShards)
}

// lock acquires every shard covering keys and returns the release func.
func (t *lockTable) lock(keys ...string) func() {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, shardOf(k))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		t.shards[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			t.shards[idx[j]].Unlock()
		}
	}
}
