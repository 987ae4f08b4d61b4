package testutil

import (
	"time"

	"github.com/pkg/errors"
)

// WaitFor polls condition every interval until it holds, failing once timeout
// elapses. Used for state that settles asynchronously, like lock keys expiring
// out of etcd.
func WaitFor(timeout, interval time.Duration, condition func() bool) error {
	if timeout < interval {
		return errors.New("timeout must be greater than interval")
	}

	deadline := time.Now().Add(timeout)
	for !condition() {
		if !time.Now().Before(deadline) {
			return errors.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
	return nil
}
