// Package cli provides the cobra bootstrap shared by every curtin
// subcommand: multicall check before cobra parses anything, global
// logging flags, and the exit-code convention of spec.md §6 (0 success,
// 2 usage/environment error, 3 uncaught exception, otherwise the failed
// sub-process's own code). Grounded on mantle/cli/cli.go's
// PersistentPreRunE-wrapping shape, adapted: no embedded version
// subcommand (curtin's `version` has its own output format, wired
// separately in cmd/curtin), and MaybeExec checks pack's multicall
// convention instead of mantle's own.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"

	"github.com/canonical/curtin/pack"
	"github.com/canonical/curtin/system/exec"
)

var (
	logDebug   bool
	logVerbose bool
	logLevel   = capnslog.NOTICE

	plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "cli")
)

// UsageError signals a missing target / invalid CLI combination, mapped
// to exit code 2 per spec.md §7.
type UsageError struct{ msg string }

func (e *UsageError) Error() string { return e.msg }

// NewUsageError builds a UsageError with the given message.
func NewUsageError(format string, args ...interface{}) error {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}

// Execute wires logging flags onto root, runs it, and translates the
// result into curtin's exit code convention. It does not return.
func Execute(root *cobra.Command) {
	pack.MaybeExec()

	root.PersistentFlags().Var(&logLevel, "log-level", "Set global log level.")
	root.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false,
		"Alias for --log-level=INFO")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false,
		"Alias for --log-level=DEBUG")
	root.PersistentFlags().Bool("showtrace", false,
		"Print a full stack trace on failure (also via CURTIN_STACKTRACE).")

	WrapPreRun(root, func(cmd *cobra.Command, args []string) error {
		startLogging(cmd)
		return nil
	})

	err := root.Execute()
	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	plog.Errorf("%v", err)

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return 2
	}

	var execErr *exec.ExecutionError
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return execErr.ExitCode
	}
	return 3
}

func startLogging(cmd *cobra.Command) {
	switch {
	case logDebug:
		logLevel = capnslog.DEBUG
	case logVerbose:
		logLevel = capnslog.INFO
	}
	if v := os.Getenv("CURTIN_VERBOSITY"); v != "" {
		logLevel = capnslog.INFO
	}

	capnslog.SetFormatter(capnslog.NewStringFormatter(cmd.OutOrStderr()))
	capnslog.SetGlobalLogLevel(logLevel)

	plog.Infof("started logging at level %s", logLevel)
}

// PreRunEFunc matches cobra's PersistentPreRunE signature.
type PreRunEFunc func(cmd *cobra.Command, args []string) error

// WrapPreRun installs f as root's PersistentPreRunE, always running
// startLogging afterward and preserving any previously set PreRun/PreRunE,
// matching mantle/cli.WrapPreRun's workaround for cobra#253 (a child
// command's own PreRun otherwise shadows the parent's).
func WrapPreRun(root *cobra.Command, f PreRunEFunc) {
	preRun, preRunE := root.PersistentPreRun, root.PersistentPreRunE
	root.PersistentPreRun, root.PersistentPreRunE = nil, nil

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := f(cmd, args); err != nil {
			return err
		}
		startLogging(cmd)
		if preRun != nil {
			preRun(cmd, args)
		} else if preRunE != nil {
			return preRunE(cmd, args)
		}
		return nil
	}
}

// RequireTarget reads --target, falling back to TARGET_MOUNT_POINT, and
// returns a UsageError (exit 2) if neither is set, per spec.md §6's
// "subcommands that require a target" rule.
func RequireTarget(cmd *cobra.Command) (string, error) {
	target, _ := cmd.Flags().GetString("target")
	if target == "" {
		target = os.Getenv("TARGET_MOUNT_POINT")
	}
	if target == "" {
		return "", NewUsageError("no target provided (use --target or TARGET_MOUNT_POINT)")
	}
	return target, nil
}
