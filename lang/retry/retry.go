// Package retry collects curtin's polling and backoff helpers. The
// uniform-delay helpers are adapted from mantle/util/retry.go's
// Retry/RetryConditional/WaitUntilReady family; WaitForRemoval generalizes
// curtin/util.py's wait_for_removal (a non-uniform [1,3,5,7]s backoff used
// to poll for a sysfs node's disappearance after a holder shutdown or
// device teardown) to any existence check; storage/holders uses it for its
// removal waits.
package retry

import (
	"time"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
)

var plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "lang/retry")

// DefaultRemovalSchedule is curtin/util.py's wait_for_removal default:
// retries=[1, 3, 5, 7] seconds between checks, five checks total.
var DefaultRemovalSchedule = []time.Duration{
	1 * time.Second, 3 * time.Second, 5 * time.Second, 7 * time.Second,
}

// WaitForRemoval polls exists() on the given schedule (sleeping between
// calls, not before the first one) until it returns false, or raises once
// the schedule is exhausted. A zero-length schedule checks exactly once.
func WaitForRemoval(name string, schedule []time.Duration, exists func() bool) error {
	plog.Debugf("waiting for %s to be removed", name)
	if !exists() {
		plog.Debugf("%s has been removed", name)
		return nil
	}
	for _, wait := range schedule {
		plog.Debugf("sleeping %s", wait)
		time.Sleep(wait)
		if !exists() {
			plog.Debugf("%s has been removed", name)
			return nil
		}
	}
	return errors.Errorf("timeout exceeded waiting for removal of %s", name)
}

// Retry calls f until it has been called attempts times or f succeeds,
// sleeping delay between attempts.
func Retry(attempts int, delay time.Duration, f func() error) error {
	return RetryConditional(attempts, delay, func(_ error) bool { return true }, f)
}

// RetryConditional is Retry, but stops immediately (returning the error)
// the first time shouldRetry(err) reports false.
func RetryConditional(attempts int, delay time.Duration, shouldRetry func(err error) bool, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = f()
		if err == nil || !shouldRetry(err) {
			break
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// WaitUntilReady polls checkFunction every delay until it reports done,
// returns an error, or timeout elapses.
func WaitUntilReady(timeout, delay time.Duration, checkFunction func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return errors.New("time limit exceeded")
		}
		start := time.Now()
		done, err := checkFunction()
		plog.Debugf("WaitUntilReady: checkFunction took %s", time.Since(start))
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		time.Sleep(delay)
	}
}
