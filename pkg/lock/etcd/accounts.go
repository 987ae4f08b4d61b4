package etcd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sort"
	"sync"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-auction/pkg/lock"
)

// AccountLocker is a lock.AccountLocker that holds account sets across every
// process sharing the etcd cluster. Elections are exclusive, so readonly
// accounts are held exclusively as well.
//
// Locks from one LockManager are re-entrant, so local goroutines are first
// serialized by the wrapped local locker.
type AccountLocker struct {
	log   *logrus.Entry
	lm    *LockManager
	local lock.AccountLocker
}

func NewAccountLocker(lm *LockManager, local lock.AccountLocker) *AccountLocker {
	return &AccountLocker{
		log:   logrus.StandardLogger().WithField("type", "lock/etcd/AccountLocker"),
		lm:    lm,
		local: local,
	}
}

// LockAccounts implements lock.AccountLocker.LockAccounts
func (a *AccountLocker) LockAccounts(ctx context.Context, writable, readonly []ed25519.PublicKey) (lock.AccountLock, error) {
	localLock, err := a.local.LockAccounts(ctx, writable, readonly)
	if err != nil {
		return nil, err
	}

	h := &heldSet{
		log:    a.log,
		local:  localLock,
		lostCh: make(chan struct{}),
	}

	// Acquiring in a global order keeps concurrent processes from deadlocking.
	for _, account := range sortedUnique(writable, readonly) {
		l, err := a.lm.Create(ctx, base58.Encode(account))
		if err != nil {
			h.Release(ctx)
			return nil, err
		}

		lostCh, err := l.Acquire(ctx)
		if err != nil {
			h.Release(ctx)
			return nil, errors.Wrapf(err, "failed to lock account %s", base58.Encode(account))
		}

		h.locks = append(h.locks, l)
		h.watch(lostCh)
	}

	return h, nil
}

type heldSet struct {
	log   *logrus.Entry
	local lock.AccountLock
	locks []lock.DistributedLock

	lostOnce    sync.Once
	lostCh      chan struct{}
	releaseOnce sync.Once
}

func (h *heldSet) watch(lostCh <-chan struct{}) {
	go func() {
		<-lostCh
		h.lostOnce.Do(func() { close(h.lostCh) })
	}()
}

// Lost implements lock.AccountLock.Lost
func (h *heldSet) Lost() <-chan struct{} {
	return h.lostCh
}

// Release implements lock.AccountLock.Release
func (h *heldSet) Release(ctx context.Context) {
	h.releaseOnce.Do(func() {
		for i := len(h.locks) - 1; i >= 0; i-- {
			if err := h.locks[i].Unlock(ctx); err != nil {
				h.log.WithError(err).Warn("failed to unlock account")
			}
		}
		h.local.Release(ctx)
	})
}

func sortedUnique(sets ...[]ed25519.PublicKey) []ed25519.PublicKey {
	var all []ed25519.PublicKey
	for _, set := range sets {
		all = append(all, set...)
	}

	sort.Slice(all, func(i, j int) bool {
		return bytes.Compare(all[i], all[j]) < 0
	})

	unique := make([]ed25519.PublicKey, 0, len(all))
	for _, account := range all {
		if len(unique) > 0 && bytes.Equal(account, unique[len(unique)-1]) {
			continue
		}
		unique = append(unique, account)
	}
	return unique
}
