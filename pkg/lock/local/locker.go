package local

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/code-payments/code-auction/pkg/lock"
	stripedsync "github.com/code-payments/code-auction/pkg/sync"
)

// DefaultStripes is the stripe count used when none is configured.
const DefaultStripes = 1024

type locker struct {
	stripes *stripedsync.StripedLock
}

// NewAccountLocker returns an in-process lock.AccountLocker over a fixed set
// of striped locks. Unrelated accounts may share a stripe, which only costs
// concurrency.
func NewAccountLocker(stripes uint) lock.AccountLocker {
	if stripes == 0 {
		stripes = DefaultStripes
	}

	return &locker{
		stripes: stripedsync.NewStripedLock(stripes),
	}
}

// LockAccounts implements lock.AccountLocker.LockAccounts
func (l *locker) LockAccounts(_ context.Context, writable, readonly []ed25519.PublicKey) (lock.AccountLock, error) {
	unlock := l.stripes.LockSet(toKeys(writable), toKeys(readonly))
	return &held{
		unlock: unlock,
		lostCh: make(chan struct{}),
	}, nil
}

type held struct {
	once   sync.Once
	unlock func()
	lostCh chan struct{}
}

// Lost implements lock.AccountLock.Lost. Local locks are never lost while held.
func (h *held) Lost() <-chan struct{} {
	return h.lostCh
}

// Release implements lock.AccountLock.Release
func (h *held) Release(_ context.Context) {
	h.once.Do(h.unlock)
}

func toKeys(accounts []ed25519.PublicKey) [][]byte {
	keys := make([][]byte, len(accounts))
	for i, account := range accounts {
		keys[i] = account
	}
	return keys
}
