package sync

import (
	"fmt"
	"sort"
	base "sync"
)

const (
	hashEntriesPerLock = 200
)

// StripedLock is a partitioned locking mechanism that consistently maps a key
// space to a set of locks. This provides concurrent data access while also
// limiting the total memory footprint.
type StripedLock struct {
	locks    []base.RWMutex
	hashRing *ring
}

// NewStripedLock returns a new StripedLock with a static number of stripes.
func NewStripedLock(stripes uint) *StripedLock {
	if stripes == 0 {
		stripes = 1
	}

	ringEntries := make(map[string]int)
	for i := 0; i < int(stripes); i++ {
		ringEntries[fmt.Sprintf("lock%d", i)] = i
	}

	return &StripedLock{
		locks:    make([]base.RWMutex, stripes),
		hashRing: newRing(ringEntries, hashEntriesPerLock),
	}
}

// Get gets the lock for a key
func (l *StripedLock) Get(key []byte) *base.RWMutex {
	return &l.locks[l.hashRing.shard(key)]
}

// LockSet acquires the stripes covering every key, exclusively for writable
// keys and shared for readonly keys. A stripe shared by a writable and a
// readonly key is taken exclusively. Stripes are always acquired in index
// order, so concurrent callers with overlapping sets cannot deadlock.
//
// The returned function releases every stripe and must be called exactly once.
func (l *StripedLock) LockSet(writable, readonly [][]byte) (unlock func()) {
	exclusive := make(map[int]bool)
	for _, key := range readonly {
		exclusive[l.hashRing.shard(key)] = false
	}
	for _, key := range writable {
		exclusive[l.hashRing.shard(key)] = true
	}

	stripes := make([]int, 0, len(exclusive))
	for stripe := range exclusive {
		stripes = append(stripes, stripe)
	}
	sort.Ints(stripes)

	for _, stripe := range stripes {
		if exclusive[stripe] {
			l.locks[stripe].Lock()
		} else {
			l.locks[stripe].RLock()
		}
	}

	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			stripe := stripes[i]
			if exclusive[stripe] {
				l.locks[stripe].Unlock()
			} else {
				l.locks[stripe].RUnlock()
			}
		}
	}
}
