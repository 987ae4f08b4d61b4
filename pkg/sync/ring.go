package sync

import (
	"encoding/binary"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

// ring is a consistent hash ring mapping arbitrary keys onto a fixed set of
// integer shards.
type ring struct {
	hashRing *treemap.Map

	// minShard caches the shard of the min entry in hashRing, which wraps the
	// ring. treemap.Map.Min() is O(log n).
	minShard int
}

// newRing returns a new consistent hash ring where every named entry occupies
// replicationFactor points on the ring.
func newRing(entries map[string]int, replicationFactor uint) *ring {
	hashRing := treemap.NewWith(utils.Int64Comparator)
	for name, shard := range entries {
		nameHash, _ := murmur3.Sum128([]byte(name))
		nameHashBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(nameHashBytes, nameHash)

		indexBytes := make([]byte, 4)
		for i := uint32(0); i < uint32(replicationFactor); i++ {
			binary.LittleEndian.PutUint32(indexBytes, i)

			hasher := murmur3.New128()
			hasher.Write(nameHashBytes)
			hasher.Write(indexBytes)
			point, _ := hasher.Sum128()
			hashRing.Put(int64(point), shard)
		}
	}

	r := &ring{hashRing: hashRing}
	if _, min := hashRing.Min(); min != nil {
		r.minShard = min.(int)
	}
	return r
}

// shard consistently hashes the key and returns its shard
func (r *ring) shard(key []byte) int {
	raw, _ := murmur3.Sum128(key)
	_, shard := r.hashRing.Ceiling(int64(raw))
	if shard != nil {
		return shard.(int)
	}
	return r.minShard
}
