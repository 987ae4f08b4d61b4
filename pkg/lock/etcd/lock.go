package etcd

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/code-payments/code-auction/pkg/lock"
)

var ErrManagerClosed = errors.New("lock manager is closed")

// LockManager hands out locks backed by etcd elections that share a single
// lease-backed session.
type LockManager struct {
	log     *logrus.Entry
	client  *v3.Client
	rootKey string
	lockTTL int
	lockVal string

	closeOnce sync.Once
	closeCh   chan struct{}

	sessionMu sync.Mutex
	session   *concurrency.Session
}

func NewLockManager(
	client *v3.Client,
	rootKey string,
	lockTTL time.Duration,
	lockValue string,
) (*LockManager, error) {
	// WithTTL() silently defaults to 60 seconds outside of (0, 60s].
	if lockTTL < time.Second || lockTTL > time.Minute {
		return nil, errors.Errorf("invalid lock ttl: %v (must be [1s, 60s])", lockTTL)
	}

	lockTTLSeconds := int(lockTTL.Round(time.Second).Seconds())

	session, err := newSession(client, lockTTLSeconds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create etcd session")
	}

	lm := &LockManager{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type": "lock/etcd/LockManager",
			"root": rootKey,
		}),
		client:  client,
		rootKey: rootKey,
		lockTTL: lockTTLSeconds,
		lockVal: lockValue,

		closeCh: make(chan struct{}),
		session: session,
	}

	// A session can end for good, for example when the cluster is leaderless
	// for longer than the TTL. watchSession replaces it so the manager recovers
	// once the cluster does.
	go lm.watchSession()

	return lm, nil
}

func newSession(client *v3.Client, ttlSeconds int) (*concurrency.Session, error) {
	return concurrency.NewSession(
		client,
		concurrency.WithTTL(ttlSeconds),
		concurrency.WithContext(v3.WithRequireLeader(context.Background())),
	)
}

// Create implements lock.Manager.
func (lm *LockManager) Create(_ context.Context, name string) (lock.DistributedLock, error) {
	if lm.currentSession() == nil {
		return nil, ErrManagerClosed
	}
	return newLock(lm, path.Join(lm.rootKey, name), lm.lockVal), nil
}

// Close ends the shared session, which unlocks every lock created by the
// manager.
func (lm *LockManager) Close() {
	lm.closeOnce.Do(func() {
		lm.sessionMu.Lock()
		defer lm.sessionMu.Unlock()

		close(lm.closeCh)
		if err := lm.session.Close(); err != nil {
			lm.log.WithError(err).Warn("failure closing etcd session")
		}
		lm.session = nil
	})
}

func (lm *LockManager) currentSession() *concurrency.Session {
	lm.sessionMu.Lock()
	defer lm.sessionMu.Unlock()
	return lm.session
}

// watchSession replaces the shared session whenever it ends, until the
// manager is closed.
func (lm *LockManager) watchSession() {
	for {
		session := lm.currentSession()
		if session == nil {
			return
		}

		select {
		case <-lm.closeCh:
			return
		case <-session.Done():
		}

		lm.log.Info("session expired, recreating")
		for !lm.replaceSession() {
			select {
			case <-lm.closeCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// replaceSession reports whether the manager no longer needs a new session,
// either because one was installed or because the manager was closed.
func (lm *LockManager) replaceSession() bool {
	session, err := newSession(lm.client, lm.lockTTL)
	if err != nil {
		lm.log.WithError(err).Warn("failure recreating session, retrying")
		return false
	}

	lm.sessionMu.Lock()
	defer lm.sessionMu.Unlock()

	if lm.session == nil {
		session.Close()
		return true
	}
	lm.session = session
	return true
}

// Lock is a lock.DistributedLock backed by an etcd election on its key.
type Lock struct {
	log *logrus.Entry
	lm  *LockManager
	key string
	val string

	electionMu sync.Mutex
	election   *concurrency.Election
}

func newLock(lm *LockManager, key, val string) *Lock {
	return &Lock{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type": "lock/etcd/Lock",
			"key":  key,
		}),
		lm:  lm,
		key: key,
		val: val,
	}
}

// Acquire implements lock.DistributedLock.
func (l *Lock) Acquire(ctx context.Context) (<-chan struct{}, error) {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	if l.election != nil {
		return nil, errors.New("lock is already held or being acquired")
	}

	session := l.lm.currentSession()
	if session == nil {
		return nil, ErrManagerClosed
	}

	holdCtx, cancel := context.WithCancel(ctx)
	election := concurrency.NewElection(session, l.key)
	if err := election.Campaign(holdCtx, l.val); err != nil {
		cancel()
		return nil, errors.Wrap(err, "error campaigning for lock")
	}
	l.election = election
	l.log.Trace("lock acquired")

	watchCh := session.Client().Watch(
		v3.WithRequireLeader(holdCtx),
		election.Key(),
		v3.WithRev(election.Rev()),
	)

	lostCh := make(chan struct{})
	go func() {
		defer cancel()

		reason := waitForLoss(session, election, watchCh)
		l.log.WithField("reason", reason).Trace("lock lost")

		// Resign blocks while the cluster has no leader, so holders hear about
		// the loss first.
		close(lostCh)
		l.resign(ctx, election)
	}()

	return lostCh, nil
}

// waitForLoss blocks until the election key may no longer be ours, returning
// why.
func waitForLoss(session *concurrency.Session, election *concurrency.Election, watchCh v3.WatchChan) string {
	for {
		select {
		case <-session.Done():
			return "session ended"

		case resp, ok := <-watchCh:
			if !ok {
				return "watch closed"
			}
			if err := resp.Err(); err != nil {
				return "watch failed: " + err.Error()
			}

			for _, event := range resp.Events {
				switch {
				case event.Type == mvccpb.DELETE:
					return "key deleted"
				case event.Kv.CreateRevision != election.Rev():
					return "key recreated"
				}
			}
		}
	}
}

// resign gives up the election if it is still the current one.
func (l *Lock) resign(ctx context.Context, election *concurrency.Election) {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	if l.election != election {
		return
	}
	l.election = nil

	if err := election.Resign(ctx); err != nil {
		l.log.WithError(err).Warn("failure resigning lost lock")
	}
}

// Unlock implements lock.DistributedLock
func (l *Lock) Unlock(ctx context.Context) error {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	if l.election == nil {
		return nil
	}

	err := l.election.Resign(ctx)
	l.election = nil
	return err
}

// IsLocked implements lock.DistributedLock
func (l *Lock) IsLocked() bool {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	return l.election != nil && l.election.Key() != ""
}
