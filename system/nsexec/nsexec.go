// Package nsexec decides whether a command should be prefixed with an
// `unshare --fork --pid --` argv so it runs in its own PID namespace, and
// probes whether the host's `unshare` binary actually supports that mode.
//
// Unlike mantle/system/ns, which enters a network namespace in-process via
// netlink/netns syscalls around each exec call, curtin never switches this
// process's own namespaces: it always shells out, so the "namespace switch"
// is just another argv prefix handed to exec.Command. The wrap-each-call
// shape of mantle/system/ns is kept; its netns content is not.
package nsexec

import (
	"bytes"
	"os"
	"os/exec"
	"sync"
)

// Mode is the tri-state unshare_pid knob from the process runner's option
// matrix: Auto decides based on euid/target/availability, On/Off force it.
type Mode int

const (
	Auto Mode = iota
	On
	Off
)

var (
	probeOnce    sync.Once
	hasUnshareV  bool
)

// HasUnsharePID reports whether the host's unshare supports --fork --pid.
// The result is cached for the life of the process, matching the teacher's
// module-level _HAS_UNSHARE_PID cache.
func HasUnsharePID() bool {
	probeOnce.Do(func() {
		path, err := exec.LookPath("unshare")
		if err != nil {
			hasUnshareV = false
			return
		}
		out, _ := exec.Command(path, "--help").CombinedOutput()
		hasUnshareV = bytes.Contains(out, []byte("--fork")) && bytes.Contains(out, []byte("--pid"))
	})
	return hasUnshareV
}

// Args returns the argv prefix to unshare the PID namespace for a command
// bound for the given chroot target, or nil if no unshare should happen.
//
// mode == Off always returns nil.
// mode == On requires euid 0 and unshare --fork --pid support, else Args
// returns an error.
// mode == Auto unshares iff euid is 0, target != "/", and unshare is usable.
func Args(mode Mode, target string) ([]string, error) {
	if mode == Off {
		return nil, nil
	}

	euid := os.Geteuid()
	if target == "" {
		target = "/"
	}

	want := mode == On
	if mode == Auto {
		want = target != "/" && euid == 0 && HasUnsharePID()
	}
	if !want {
		return nil, nil
	}

	if euid != 0 {
		return nil, &UnavailableError{Reason: "euid is not 0"}
	}
	if !HasUnsharePID() {
		return nil, &UnavailableError{Reason: "unshare --fork --pid not available"}
	}
	return []string{"unshare", "--fork", "--pid", "--"}, nil
}

// UnavailableError reports that unshare_pid was requested but cannot be
// honored on this host.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return "cannot unshare pid namespace: " + e.Reason
}
