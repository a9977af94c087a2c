package exec

import (
	"strings"
	"testing"
	"time"

	"github.com/canonical/curtin/system/nsexec"
)

func TestRunCapturesStdout(t *testing.T) {
	res, err := Run([]string{"echo", "hello"}, Options{Capture: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("got stdout %q", res.Stdout)
	}
}

func TestRunAllowedExitCodes(t *testing.T) {
	_, err := Run([]string{"sh", "-c", "exit 5"}, Options{AllowedExitCodes: []int{5}})
	if err != nil {
		t.Fatalf("exit code 5 should have been allowed: %v", err)
	}

	_, err = Run([]string{"sh", "-c", "exit 5"}, Options{})
	if err == nil {
		t.Fatalf("exit code 5 should not be allowed by default")
	}
	execErr, ok := err.(*ExecutionError)
	if !ok {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
	if execErr.ExitCode != 5 {
		t.Fatalf("got exit code %d", execErr.ExitCode)
	}
}

func TestRunRetriesThenReturnsLastFailure(t *testing.T) {
	// sh -c 'exit 1' always fails; verify the retry loop burns through the
	// whole schedule and still returns the last failure rather than hanging.
	start := time.Now()
	_, err := Run([]string{"sh", "-c", "exit 1"}, Options{
		Retries: []time.Duration{time.Millisecond, time.Millisecond},
	})
	if err == nil {
		t.Fatalf("expected failure to persist across retries")
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Fatalf("expected retry sleeps to have elapsed")
	}
}

func TestRunShell(t *testing.T) {
	res, err := Run([]string{"echo a; echo b"}, Options{Shell: true, Capture: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "a\nb\n" {
		t.Fatalf("got %q", res.Stdout)
	}
}

func TestRunCombineCapture(t *testing.T) {
	res, err := Run([]string{"sh", "-c", "echo out; echo err >&2"}, Options{CombineCapture: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Stdout, "out") || !strings.Contains(res.Stdout, "err") {
		t.Fatalf("expected combined output, got %q", res.Stdout)
	}
}

func TestNsexecArgsOffIsAlwaysNil(t *testing.T) {
	args, err := nsexec.Args(nsexec.Off, "/mnt/target")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args != nil {
		t.Fatalf("expected nil args, got %v", args)
	}
}

func TestTargetNeedsChroot(t *testing.T) {
	cases := map[string]bool{
		"":            false,
		"/":           false,
		"/mnt/target": true,
	}
	for target, want := range cases {
		if got := TargetNeedsChroot(target); got != want {
			t.Errorf("TargetNeedsChroot(%q) = %v, want %v", target, got, want)
		}
	}
}
