package install

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/canonical/curtin/chroot"
	"github.com/canonical/curtin/system/exec"
)

// crashDumpsEnablementScript is the kdump-tools script curtin shells out to
// for manual enable/disable and automatic detection, matching
// curtin/kernel_crash_dumps.py's ENABLEMENT_SCRIPT.
const crashDumpsEnablementScript = "/usr/share/kdump-tools/kdump_set_default"

// KernelCrashDumps implements the kernel-crash-dumps config key's
// true/false/unset tri-state (spec.md §6): true manually enables, false
// manually disables, and unset runs the target's own detection script if
// present, leaving the decision to it. Package installation of kdump-tools
// itself (kernel_crash_dumps.py's ensure_kdump_installed) is out of scope:
// no package manager is part of this engine (spec.md §1 Non-goals).
func KernelCrashDumps(enabled interface{}, target string) error {
	switch v := enabled.(type) {
	case bool:
		if v {
			return crashDumpsManualEnable(target)
		}
		return crashDumpsManualDisable(target)
	case string:
		switch v {
		case "true":
			return crashDumpsManualEnable(target)
		case "false":
			return crashDumpsManualDisable(target)
		}
	}
	return crashDumpsAutoDetect(target)
}

func crashDumpsScriptPath(target string) string {
	return filepath.Join(target, crashDumpsEnablementScript)
}

func crashDumpsDetectionAvailable(target string) bool {
	_, err := os.Stat(crashDumpsScriptPath(target))
	return err == nil
}

func crashDumpsManualEnable(target string) error {
	t, err := chroot.Enter(target, chroot.New())
	if err != nil {
		return errors.Wrap(err, "entering target to enable kernel crash dumps")
	}
	defer t.Exit()
	if _, err := t.Subp([]string{crashDumpsEnablementScript, "true"}, exec.Options{}); err != nil {
		// the script may not be SRU'd onto this target yet; don't block the
		// install on it, matching kernel_crash_dumps.py's manual_enable.
		plog.Warningf("kernel-crash-dumps enablement script failed: %v", err)
	}
	return nil
}

func crashDumpsManualDisable(target string) error {
	if !crashDumpsDetectionAvailable(target) {
		return nil
	}
	t, err := chroot.Enter(target, chroot.New())
	if err != nil {
		return errors.Wrap(err, "entering target to disable kernel crash dumps")
	}
	defer t.Exit()
	_, err = t.Subp([]string{crashDumpsEnablementScript, "false"}, exec.Options{})
	return err
}

func crashDumpsAutoDetect(target string) error {
	if !crashDumpsDetectionAvailable(target) {
		return nil
	}
	t, err := chroot.Enter(target, chroot.New())
	if err != nil {
		return errors.Wrap(err, "entering target to run kernel-crash-dumps detection")
	}
	defer t.Exit()
	_, err = t.Subp([]string{crashDumpsEnablementScript}, exec.Options{})
	return err
}
