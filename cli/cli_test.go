package cli

import (
	"testing"

	"github.com/canonical/curtin/system/exec"
)

func TestExitCodeForNilIsZero(t *testing.T) {
	if got := exitCodeFor(nil); got != 0 {
		t.Fatalf("expected exit code 0 for a nil error, got %d", got)
	}
}

func TestExitCodeForUsageErrorIsTwo(t *testing.T) {
	if got := exitCodeFor(NewUsageError("no target")); got != 2 {
		t.Fatalf("expected exit code 2 for a usage error, got %d", got)
	}
}

func TestExitCodeForExecutionErrorUsesItsExitCode(t *testing.T) {
	err := &exec.ExecutionError{Cmd: []string{"false"}, ExitCode: 7}
	if got := exitCodeFor(err); got != 7 {
		t.Fatalf("expected the sub-process's own exit code 7, got %d", got)
	}
}

func TestExitCodeForUnknownErrorIsThree(t *testing.T) {
	if got := exitCodeFor(errUnknown{}); got != 3 {
		t.Fatalf("expected exit code 3 for an uncaught error, got %d", got)
	}
}

type errUnknown struct{}

func (errUnknown) Error() string { return "boom" }
