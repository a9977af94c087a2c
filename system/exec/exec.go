// Package exec is curtin's process runner: it wraps os/exec with the option
// matrix of an external tool that spends most of its life shelling out to
// mkfs, lvm, mdadm, cryptsetup, parted and friends rather than reimplementing
// them (see curtin/util.py's subp/_subp). Options compose: chroot prefixing,
// PID-namespace unshare, capture/combine of stdout+stderr, retry-by-sleep
// schedules, and byte/utf-8 decode modes.
package exec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/coreos/pkg/capnslog"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/canonical/curtin/system/nsexec"
)

var plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "system/exec")

// Options configures a single Run call. All fields are optional; the zero
// value runs the command with no capture, no chroot, one allowed exit code
// (0), and no retries.
type Options struct {
	// InputData, if non-nil, is written to the command's stdin.
	InputData []byte
	// AllowedExitCodes defaults to []int{0} when empty.
	AllowedExitCodes []int
	// Env, if non-nil, replaces the command's environment entirely
	// (name=value pairs, like os/exec.Cmd.Env).
	Env []string
	// Capture requests stdout and stderr be captured and returned.
	Capture bool
	// CombineCapture merges stderr into stdout; implies capture.
	CombineCapture bool
	// LogCaptured debug-logs captured output on success.
	LogCaptured bool
	// Shell runs the command through `sh -c`.
	Shell bool
	// Decode selects how captured bytes become strings.
	Decode Decode
	// Retries is a sequence of inter-attempt sleeps. Given N entries the
	// command is attempted up to N+1 times; after failure i, sleep
	// Retries[i] then retry. The final attempt's result is returned as-is.
	Retries []time.Duration
	// Target chroots the command into this root. "" and "/" disable chroot.
	Target string
	// UnsharePID controls PID namespace unsharing. Zero value is Auto.
	UnsharePID nsexec.Mode
	// LogString, if set, is logged in place of the real argv (for
	// commands carrying sensitive input, e.g. luks passphrases).
	LogString string
}

// Result carries a successful (or failed, for inspection) run's captured
// output.
type Result struct {
	Stdout string
	Stderr string
}

// Run executes args with the given options, applying chroot/unshare argv
// prefixing, then retrying per the configured schedule on failure.
func Run(args []string, opts Options) (Result, error) {
	var attempt int
	var res Result
	var err error

	sleeps := opts.Retries
	for attempt = 0; attempt <= len(sleeps); attempt++ {
		res, err = runOnce(args, opts)
		if err == nil {
			return res, nil
		}
		if attempt == len(sleeps) {
			break
		}
		plog.Debugf("try %d: command %v failed: %v", attempt, args, err)
		time.Sleep(sleeps[attempt])
	}
	return res, err
}

func runOnce(args []string, opts Options) (Result, error) {
	target := opts.Target
	if target == "" {
		target = "/"
	}

	unshareArgs, err := nsexec.Args(opts.UnsharePID, target)
	if err != nil {
		return Result{}, errors.Wrapf(err, "unable to unshare pid (cmd=%v)", args)
	}

	var chrootArgs []string
	if target != "/" {
		chrootArgs = []string{"chroot", target}
	}

	var shArgs []string
	full := append([]string{}, args...)
	if opts.Shell {
		shArgs = []string{"sh", "-c"}
	}

	full = joinArgv(unshareArgs, chrootArgs, shArgs, full)

	allowed := opts.AllowedExitCodes
	if len(allowed) == 0 {
		allowed = []int{0}
	}

	if opts.LogString != "" {
		plog.Debugf("Running hidden command to protect sensitive input/output: %s", opts.LogString)
	} else {
		plog.Debugf("Running command %s with allowed return codes %v (capture=%v)",
			shellquote.Join(full...), allowed, captureMode(opts))
	}

	cmd := exec.CommandContext(context.Background(), full[0], full[1:]...)
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	var stdout, stderr bytes.Buffer
	if opts.Capture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}
	if opts.CombineCapture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stdout
	}
	if opts.InputData != nil {
		cmd.Stdin = bytes.NewReader(opts.InputData)
	} else {
		devnull, err := os.Open(os.DevNull)
		if err == nil {
			defer devnull.Close()
			cmd.Stdin = devnull
		}
	}

	runErr := cmd.Run()

	var outStr, errStr string
	if opts.Capture || opts.CombineCapture {
		outStr, err = decodeBytes(opts.Decode, stdout.Bytes())
		if err != nil {
			return Result{}, err
		}
		if !opts.CombineCapture {
			errStr, err = decodeBytes(opts.Decode, stderr.Bytes())
			if err != nil {
				return Result{}, err
			}
		}
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, &ExecutionError{Cmd: full, Reason: runErr, ExitCode: -1}
		}
	}

	if !allowedCode(exitCode, allowed) {
		return Result{Stdout: outStr, Stderr: errStr}, &ExecutionError{
			Cmd:      full,
			ExitCode: exitCode,
			Stdout:   outStr,
			Stderr:   errStr,
		}
	}

	if opts.LogCaptured && (opts.Capture || opts.CombineCapture) {
		plog.Debugf("Command returned stdout=%s, stderr=%s", outStr, errStr)
	}

	return Result{Stdout: outStr, Stderr: errStr}, nil
}

func captureMode(opts Options) string {
	if opts.CombineCapture {
		return "combine"
	}
	return boolStr(opts.Capture)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func allowedCode(code int, allowed []int) bool {
	for _, a := range allowed {
		if a == code {
			return true
		}
	}
	return false
}

func joinArgv(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// IsNotFound reports whether err indicates the command itself could not be
// found/exec'd (as opposed to running and exiting non-zero).
func IsNotFound(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		if eerr, ok := execErr.Reason.(*exec.Error); ok {
			return eerr.Err == exec.ErrNotFound
		}
	}
	return false
}

// Quote renders argv for inclusion in a human log line or a generated shell
// script.
func Quote(args []string) string {
	return shellquote.Join(args...)
}

// TargetNeedsChroot reports whether a target path requires chroot prefixing
// at all (target == "" or "/" means no).
func TargetNeedsChroot(target string) bool {
	return target != "" && target != "/" && !strings.HasPrefix(target, "//")
}
