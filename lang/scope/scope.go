// Package scope provides a LIFO teardown stack for scoped resource
// acquisition: bind mounts, temp directories, policy-rc.d installs and the
// like, each of which must be reversed in the opposite order they were
// acquired, even when an earlier step in the unwind fails.
package scope

import (
	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "lang/scope")

// Teardown is a single reversible action recorded by a Stack.
type Teardown func() error

// Stack accumulates Teardown actions and reverses them in LIFO order.
// It is the explicit form of the chained-context-manager pattern the
// original tool uses for bind mounts, temp directories and policy-rc.d.
type Stack struct {
	actions []labeled
}

type labeled struct {
	name string
	fn   Teardown
}

// Push records an action to run during Unwind, most-recently-pushed first.
func (s *Stack) Push(name string, fn Teardown) {
	s.actions = append(s.actions, labeled{name: name, fn: fn})
}

// Unwind runs every recorded action in reverse order. It always runs all of
// them regardless of individual failures, logging each failure, and returns
// the first error encountered (if any) so a caller can surface it without
// masking whichever error originally triggered the unwind.
func (s *Stack) Unwind() error {
	var first error
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		if err := a.fn(); err != nil {
			plog.Errorf("teardown %q failed: %v", a.name, err)
			if first == nil {
				first = err
			}
		}
	}
	s.actions = nil
	return first
}

// Len reports how many teardown actions are currently pending.
func (s *Stack) Len() int {
	return len(s.actions)
}
